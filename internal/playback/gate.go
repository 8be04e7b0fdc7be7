// Package playback implements the playback-token gate: the session-scoped
// cancellation mechanism for all outbound audio.
//
// The gate is a monotonic counter. Every attempt to speak captures the
// current token; any later increment (a new turn starting, or the caller
// barging in) invalidates every prior capture. There is no other
// cancellation channel for in-flight speech: every network suspension in
// the pipeline re-checks StillValid before touching session state or
// emitting audio, and exits normally when the capture has gone stale.
package playback

import "sync/atomic"

// Gate enforces at-most-one active response per call. Safe for concurrent
// use; background work is handed the captured token by value, never a
// reference to the counter.
type Gate struct {
	token atomic.Uint64
	ended atomic.Bool
}

// NewGate returns a Gate at token zero with the call live.
func NewGate() *Gate {
	return &Gate{}
}

// Capture reads the current token. The caller holds it for the lifetime of
// one speech attempt.
func (g *Gate) Capture() uint64 {
	return g.token.Load()
}

// Bump increments the token, invalidating every outstanding capture, and
// returns the new value.
func (g *Gate) Bump() uint64 {
	return g.token.Add(1)
}

// StillValid reports whether a captured token is still the current one and
// the call has not ended.
func (g *Gate) StillValid(captured uint64) bool {
	return !g.ended.Load() && g.token.Load() == captured
}

// End latches the call-ended state. Once set, every StillValid check fails
// and all in-flight work unwinds. End is idempotent.
func (g *Gate) End() {
	g.ended.Store(true)
}

// Ended reports whether the call has ended.
func (g *Gate) Ended() bool {
	return g.ended.Load()
}
