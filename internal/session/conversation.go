package session

import (
	"sync"

	"github.com/voxbridge-ai/voxbridge/internal/calllog"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
)

// conversation is the per-call message history and transcript. Both only
// ever grow. The orchestrator appends from its turn goroutine while the
// finalizer reads from the frame loop, so access is mutex-guarded.
type conversation struct {
	mu         sync.Mutex
	msgs       []llm.Message
	transcript []calllog.TranscriptEntry
	userTurns  int
}

func (c *conversation) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, llm.Message{Role: "user", Content: text})
	c.transcript = append(c.transcript, calllog.TranscriptEntry{Role: "user", Text: text})
	c.userTurns++
}

func (c *conversation) AppendAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, llm.Message{Role: "assistant", Content: text})
	c.transcript = append(c.transcript, calllog.TranscriptEntry{Role: "assistant", Text: text})
}

// History returns a snapshot of all messages so far, oldest first.
func (c *conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// UserTurns returns how many user messages have been appended.
func (c *conversation) UserTurns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userTurns
}

// Transcript returns a snapshot of the role-tagged transcript.
func (c *conversation) Transcript() []calllog.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]calllog.TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}
