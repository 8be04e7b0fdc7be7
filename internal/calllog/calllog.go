// Package calllog posts the final per-call report to the remote call-log
// sink. The report is the only thing the relay persists about a call; once
// the POST succeeds or fails (there is no retry) the session is gone.
package calllog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TranscriptEntry is one role-tagged line of the call transcript.
type TranscriptEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Usage is the per-call usage block of the report.
type Usage struct {
	TurnsCount       int     `json:"turns_count"`
	STTDurationSec   float64 `json:"stt_duration_sec"`
	LLMInputTokens   int     `json:"llm_input_tokens"`
	LLMOutputTokens  int     `json:"llm_output_tokens"`
	TTSCharacters    int     `json:"tts_characters"`
	EstimatedCost    float64 `json:"estimated_cost"`
	VoiceActivityPct float64 `json:"voice_activity_percent"`
	AvgLatencySTTMs  float64 `json:"avg_latency_stt_ms"`
	AvgLatencyLLMMs  float64 `json:"avg_latency_llm_ms"`
	AvgLatencyTTSMs  float64 `json:"avg_latency_tts_ms"`
}

// Report is the final per-call document.
type Report struct {
	CallLogID       string            `json:"call_log_id"`
	DurationSeconds float64           `json:"duration_seconds"`
	Transcript      []TranscriptEntry `json:"transcript"`
	Status          string            `json:"status"`
	EndedAt         time.Time         `json:"ended_at"`
	Usage           Usage             `json:"usage"`
}

// Sink is the interface the session layer depends on; Client implements it.
type Sink interface {
	Post(ctx context.Context, report *Report) error
}

// Client posts reports over HTTP with the shared-secret header.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for posts.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Client for the sink at baseURL.
func NewClient(baseURL, secret string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("calllog: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Post delivers the report. A non-2xx response is an error; the caller logs
// it and moves on.
func (c *Client) Post(ctx context.Context, report *Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("calllog: marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call-log", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calllog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calllog: post %q: %w", report.CallLogID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("calllog: post %q: unexpected status %d: %s", report.CallLogID, resp.StatusCode, msg)
	}
	return nil
}
