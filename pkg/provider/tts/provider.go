// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The relay's carrier wants G.711 μ-law at 8 kHz, so providers synthesize
// directly into that format and stream the raw bytes; the caller owns
// repacketization into 20 ms frames and all gating of the outbound stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Voice selects the synthesis voice and model.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Model is the provider-specific synthesis model identifier.
	Model string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesis of text and returns the provider's chunked
	// response body: raw μ-law @ 8 kHz bytes with no container. The caller
	// must Close the reader, and should stop reading as soon as its playback
	// token goes stale.
	Synthesize(ctx context.Context, text string, voice Voice) (io.ReadCloser, error)
}
