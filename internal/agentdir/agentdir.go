// Package agentdir fetches per-agent configuration from the remote agent
// directory service. The record describes the agent's voice, prompts, and
// VAD tuning; every field has a documented default so a directory outage
// degrades to a generic agent instead of a dead line.
package agentdir

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

// Defaults applied to any field missing from the fetched record.
const (
	DefaultSilenceThresholdDB = -40.0
	DefaultSilenceDurationMs  = 500
	DefaultPrefixPaddingMs    = 300
	DefaultTemperature        = 0.5
	DefaultLanguage           = "es"
	DefaultTTSModel           = "eleven_flash_v2_5"
	DefaultVoiceID            = "EXAVITQu4vr4xnSDxMaL"

	defaultSystemPrompt = "Eres un asistente telefónico amable y profesional. Responde de forma breve y clara."
)

// AgentConfig is the immutable per-session agent record.
type AgentConfig struct {
	// SystemPrompt is the raw agent prompt; the pipeline optimizes it
	// before each completion.
	SystemPrompt string `json:"system_prompt"`

	// Greeting, when non-empty, is spoken as soon as the stream starts.
	Greeting string `json:"greeting"`

	// VoiceID and TTSModel select the synthesis voice.
	VoiceID  string `json:"voice_id"`
	TTSModel string `json:"tts_model"`

	// Language and Keywords are recognition hints for STT.
	Language string   `json:"stt_language"`
	Keywords []string `json:"stt_keywords"`

	// VAD tuning.
	SilenceThresholdDB float64 `json:"silence_threshold_db"`
	SilenceDurationMs  int     `json:"silence_duration_ms"`
	PrefixPaddingMs    int     `json:"prefix_padding_ms"`

	// Temperature is the LLM sampling temperature.
	Temperature float64 `json:"temperature"`
}

// Default returns a fully-populated AgentConfig with every field at its
// documented default.
func Default() *AgentConfig {
	cfg := &AgentConfig{SystemPrompt: defaultSystemPrompt}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills every zero-valued field.
func (c *AgentConfig) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.VoiceID == "" {
		c.VoiceID = DefaultVoiceID
	}
	if c.TTSModel == "" {
		c.TTSModel = DefaultTTSModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SilenceThresholdDB == 0 {
		c.SilenceThresholdDB = DefaultSilenceThresholdDB
	}
	if c.SilenceDurationMs <= 0 {
		c.SilenceDurationMs = DefaultSilenceDurationMs
	}
	if c.PrefixPaddingMs <= 0 {
		c.PrefixPaddingMs = DefaultPrefixPaddingMs
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
}

// Fetcher is the interface the session layer depends on; Client implements
// it, and tests substitute it.
type Fetcher interface {
	Fetch(ctx context.Context, agentID string) (*AgentConfig, error)
}

// Client fetches agent records over HTTP with a shared-secret header.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Client for the directory at baseURL, authenticating
// with the shared secret.
func NewClient(baseURL, secret string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("agentdir: baseURL must not be empty")
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

// fetchRequest is the directory lookup body.
type fetchRequest struct {
	AgentID string `json:"agentId"`
}

// Fetch retrieves the record for agentID and applies defaults to any field
// the directory left empty. Callers fall back to Default() on error.
func (c *Client) Fetch(ctx context.Context, agentID string) (*AgentConfig, error) {
	body, err := json.Marshal(fetchRequest{AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("agentdir: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent-config", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentdir: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentdir: fetch %q: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agentdir: fetch %q: unexpected status %d: %s", agentID, resp.StatusCode, msg)
	}

	cfg := &AgentConfig{}
	if err := json.NewDecoder(resp.Body).Decode(cfg); err != nil {
		return nil, fmt.Errorf("agentdir: decode record: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
