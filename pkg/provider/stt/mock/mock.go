// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to verify the PCM and config the orchestrator
// uploads and to feed controlled transcripts without a live STT backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is the audio passed to Transcribe.
	PCM []byte
	// Cfg is the config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider. Zero values for
// response fields cause Transcribe to return an empty result. Set Err to
// inject errors.
type Provider struct {
	mu sync.Mutex

	// Result is returned from every Transcribe call when Err is nil.
	Result *stt.Result

	// Results, when non-empty, is consumed one element per call, taking
	// precedence over Result. After exhaustion, Result applies again.
	Results []*stt.Result

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Calls records every invocation in order.
	Calls []TranscribeCall
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, cfg stt.Config) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Calls = append(p.Calls, TranscribeCall{PCM: cp, Cfg: cfg})

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r, nil
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &stt.Result{}, nil
}

// CallCount returns the number of recorded Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
