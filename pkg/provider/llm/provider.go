// Package llm defines the Provider interface for chat-completion backends.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message is one role-tagged entry of the conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// Model selects the chat model for this request. The orchestrator picks
	// between the small and the large model based on prompt size.
	Model string

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation window; the last message is the
	// user turn driving the reply.
	Messages []Message

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty on the
	// final chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or "error").
	FinishReason string
}

// Usage holds token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req and returns a read-only channel emitting
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or ctx is cancelled. Errors after the stream has started are
	// surfaced as a final Chunk with FinishReason "error"; the error return
	// is non-nil only when the stream cannot start. Callers must drain the
	// channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// CountTokens estimates how many tokens messages would consume. The
	// estimate feeds usage accounting, not context budgeting, so a rough
	// approximation is acceptable but must not undercount wildly.
	CountTokens(messages []Message) int
}
