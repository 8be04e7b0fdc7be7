// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to verify the text the orchestrator speaks and
// to feed controlled μ-law byte streams without a live backend.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider. By default every call
// returns Audio as its body; set Err to make Synthesize fail.
type Provider struct {
	mu sync.Mutex

	// Audio is the μ-law byte stream returned for every synthesis call.
	Audio []byte

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Calls records every invocation in order.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string, voice tts.Voice) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	return io.NopCloser(bytes.NewReader(p.Audio)), nil
}

// SpokenTexts returns the texts of all recorded calls, in order.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of recorded Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
