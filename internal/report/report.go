// Package report accumulates per-call usage and latency figures and turns
// them into the final call-log document. One Accumulator lives on each
// session; the greeting and turn goroutines feed it concurrently, so it
// locks internally.
package report

import (
	"sync"
	"time"

	"github.com/voxbridge-ai/voxbridge/internal/calllog"
)

// Rates is the per-unit cost model. Values are configuration; these
// defaults match the providers' published list prices.
type Rates struct {
	// STTPerMinute is the transcription price per audio minute.
	STTPerMinute float64

	// LLMInputPerMTok / LLMOutputPerMTok are prices per million tokens for
	// the small chat model.
	LLMInputPerMTok  float64
	LLMOutputPerMTok float64

	// TTSPerMChar is the synthesis price per million characters.
	TTSPerMChar float64
}

// DefaultRates returns the documented default cost model.
func DefaultRates() Rates {
	return Rates{
		STTPerMinute:     0.0043,
		LLMInputPerMTok:  0.15,
		LLMOutputPerMTok: 0.60,
		TTSPerMChar:      30.0,
	}
}

// Accumulator collects usage counters and latency sums for one call. Safe
// for concurrent use; the greeting synthesis can still be streaming when
// the first turn starts observing.
type Accumulator struct {
	mu    sync.Mutex
	rates Rates

	turns           int
	sttSeconds      float64
	llmInputTokens  int
	llmOutputTokens int
	ttsCharacters   int

	sttLatencySum time.Duration
	sttLatencyN   int
	llmLatencySum time.Duration
	llmLatencyN   int
	ttsLatencySum time.Duration
	ttsLatencyN   int
}

// NewAccumulator creates an Accumulator with the given cost model.
func NewAccumulator(rates Rates) *Accumulator {
	return &Accumulator{rates: rates}
}

// AddTurn counts one spoken assistant turn (greeting included).
func (a *Accumulator) AddTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns++
}

// ObserveSTT records one transcription round-trip.
func (a *Accumulator) ObserveSTT(latency time.Duration, audioSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sttLatencySum += latency
	a.sttLatencyN++
	a.sttSeconds += audioSeconds
}

// ObserveLLM records one completion round-trip.
func (a *Accumulator) ObserveLLM(latency time.Duration, inputTokens, outputTokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.llmLatencySum += latency
	a.llmLatencyN++
	a.llmInputTokens += inputTokens
	a.llmOutputTokens += outputTokens
}

// ObserveTTS records one synthesis round-trip.
func (a *Accumulator) ObserveTTS(latency time.Duration, characters int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ttsLatencySum += latency
	a.ttsLatencyN++
	a.ttsCharacters += characters
}

// EstimatedCost computes the call cost under the accumulator's rates.
func (a *Accumulator) EstimatedCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimatedCost()
}

// estimatedCost requires a.mu to be held.
func (a *Accumulator) estimatedCost() float64 {
	cost := a.sttSeconds / 60 * a.rates.STTPerMinute
	cost += float64(a.llmInputTokens) / 1e6 * a.rates.LLMInputPerMTok
	cost += float64(a.llmOutputTokens) / 1e6 * a.rates.LLMOutputPerMTok
	cost += float64(a.ttsCharacters) / 1e6 * a.rates.TTSPerMChar
	return cost
}

// Usage builds the report usage block. voiceActivityPct is computed by the
// caller from the segmenter's frame counters.
func (a *Accumulator) Usage(voiceActivityPct float64) calllog.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return calllog.Usage{
		TurnsCount:       a.turns,
		STTDurationSec:   a.sttSeconds,
		LLMInputTokens:   a.llmInputTokens,
		LLMOutputTokens:  a.llmOutputTokens,
		TTSCharacters:    a.ttsCharacters,
		EstimatedCost:    a.estimatedCost(),
		VoiceActivityPct: voiceActivityPct,
		AvgLatencySTTMs:  avgMs(a.sttLatencySum, a.sttLatencyN),
		AvgLatencyLLMMs:  avgMs(a.llmLatencySum, a.llmLatencyN),
		AvgLatencyTTSMs:  avgMs(a.ttsLatencySum, a.ttsLatencyN),
	}
}

// avgMs converts a latency sum and count to an average in milliseconds.
func avgMs(sum time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum.Milliseconds()) / float64(n)
}
