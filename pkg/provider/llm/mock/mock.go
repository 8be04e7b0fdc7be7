// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests the
// orchestrator builds and to feed controlled token streams without a live
// backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values for
// response fields cause the stream to close immediately. Set StreamErr to
// make StreamCompletion fail to start.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence emitted on the channel returned by
	// StreamCompletion. All chunks are sent before the channel closes.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned instead of a channel.
	StreamErr error

	// OnStream, if set, is called once per StreamCompletion before the
	// chunks are emitted. Tests use it to coordinate concurrent assertions.
	OnStream func(req llm.CompletionRequest)

	// StreamCalls records every invocation in order.
	StreamCalls []StreamCall
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Req: req})
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	onStream := p.OnStream
	streamErr := p.StreamErr
	p.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}
	if onStream != nil {
		onStream(req)
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CountTokens implements llm.Provider with the same approximation the real
// providers use.
func (p *Provider) CountTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}

// Calls returns a snapshot of the recorded StreamCompletion calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}
