package resilience

import (
	"context"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, breaker BreakerConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, breaker),
	}
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the batch transcription against the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (*stt.Result, error) {
	return Execute(f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}
