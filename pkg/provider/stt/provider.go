// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The relay transcribes one complete user turn at a time: a finalized PCM
// buffer goes up as a WAV body, a plain-text transcript comes back. Batch
// transcription over HTTP keeps the per-turn state machine trivial: the
// turn is already delimited by local VAD, so a streaming recognition session
// would buy nothing but connection management.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Config carries the recognition hints for one transcription request.
type Config struct {
	// Language is the recognition language code (e.g., "es", "en-US").
	// Empty means let the provider detect the language.
	Language string

	// Keywords is an optional domain vocabulary boost list.
	Keywords []string
}

// Result is the outcome of transcribing one turn.
type Result struct {
	// Text is the transcript. May be empty when the provider heard nothing
	// intelligible; callers must treat an empty transcript as "no turn".
	Text string

	// Confidence is the provider's overall confidence (0.0–1.0), zero when
	// not reported.
	Confidence float64

	// AudioSeconds is the spoken duration the provider metered, used for
	// usage accounting. Zero when not reported.
	AudioSeconds float64
}

// Provider is the abstraction over any batch STT backend.
//
// Transcribe must respect ctx cancellation promptly: a stale turn is
// worthless once the caller has moved on.
type Provider interface {
	// Transcribe uploads one turn of linear PCM (16-bit LE, 8 kHz, mono) and
	// returns the transcript. A non-2xx provider response is an error; the
	// caller abandons the turn and the session continues.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (*Result, error)
}
