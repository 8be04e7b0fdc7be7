package resilience

import (
	"context"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// multiple completion backends, each behind its own circuit breaker.
//
// Only stream establishment is covered by the breaker; once a stream is
// open, mid-stream errors surface to the orchestrator as usual. Retrying a
// half-spoken reply against another backend would repeat the opener.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, breaker BreakerConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, breaker),
	}
}

// AddFallback registers an additional completion backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// StreamCompletion opens a completion stream against the first healthy
// backend.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Execute(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the primary backend; token estimation does not
// depend on backend health.
func (f *LLMFallback) CountTokens(msgs []llm.Message) int {
	return f.group.entries[0].value.CountTokens(msgs)
}
