package resilience

import (
	"context"
	"io"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, breaker BreakerConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, breaker),
	}
}

// AddFallback registers an additional synthesis backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize starts synthesis against the first healthy backend. Fallback
// voices differ between backends, so cross-backend failover should only be
// configured with equivalent voice IDs.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (io.ReadCloser, error) {
	return Execute(f.group, func(p tts.Provider) (io.ReadCloser, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
