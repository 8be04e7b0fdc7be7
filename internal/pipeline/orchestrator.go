// Package pipeline implements the STT → LLM → TTS turn orchestrator.
//
// The orchestrator reduces perceived voice latency by starting TTS synthesis
// on the LLM's first complete sentence while the rest of the reply is still
// streaming. The opener and the remainder are stitched into a single audio
// utterance on the carrier stream.
//
// # Turn lifecycle
//
//  1. Caller stops speaking → the segmenter hands over a finalised turn.
//  2. The turn's PCM is transcribed in one batch request.
//  3. The transcript joins the conversation history and a completion is
//     streamed from the LLM.
//  4. As soon as the first sentence boundary appears, that prefix goes to
//     TTS and playback starts (~1 s after end of speech).
//  5. When the stream finishes, the remainder is synthesised and appended
//     to the same playback, unless the caller barged in meanwhile.
//
// Every outbound audio frame is guarded by a playback token captured when
// the turn started; a barge-in bumps the token and all remaining frames of
// the stale reply are silently dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voxbridge-ai/voxbridge/internal/agentdir"
	"github.com/voxbridge-ai/voxbridge/internal/observe"
	"github.com/voxbridge-ai/voxbridge/internal/playback"
	"github.com/voxbridge-ai/voxbridge/internal/prompt"
	"github.com/voxbridge-ai/voxbridge/internal/report"
	"github.com/voxbridge-ai/voxbridge/pkg/audio"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
	"github.com/voxbridge-ai/voxbridge/pkg/vad"
)

const (
	// historyWindow is the number of prior messages included in each
	// completion request, counted before the current user turn is appended.
	historyWindow = 6

	// largeModelThreshold is the total prompt size in characters above which
	// the large model is selected instead of the small one.
	largeModelThreshold = 10000

	// maxCompletionTokens caps the reply length. Phone replies are short;
	// anything longer than this reads as a monologue.
	maxCompletionTokens = 250

	// earlyMinIndex and earlyMinPrefix gate the first-sentence early start:
	// the terminator must sit at byte index >= earlyMinIndex and the prefix
	// must be at least earlyMinPrefix bytes long. Short openers like "Sí."
	// are not worth a separate synthesis round-trip.
	earlyMinIndex  = 10
	earlyMinPrefix = 20
)

// ErrBusy is returned by [Orchestrator.ProcessTurn] when a previous turn is
// still being processed. The caller drops the new turn; its audio stays in
// the conversation only as silence.
var ErrBusy = errors.New("pipeline: turn already in progress")

// Sender delivers outbound frames to the carrier. The session implements it
// on top of the carrier WebSocket.
type Sender interface {
	// SendMedia sends one mu-law payload as a media frame.
	SendMedia(ctx context.Context, payload []byte) error

	// SendClear tells the carrier to flush its playback buffer.
	SendClear(ctx context.Context) error
}

// Conversation is the per-call message history the orchestrator reads and
// extends. The session owns the backing store.
type Conversation interface {
	AppendUser(text string)
	AppendAssistant(text string)

	// History returns a snapshot of all messages so far, oldest first.
	History() []llm.Message

	// UserTurns returns how many user messages have been appended.
	UserTurns() int
}

// ModelSet names the chat models available to the orchestrator.
type ModelSet struct {
	// Small handles ordinary prompts.
	Small string

	// Large handles prompts over [largeModelThreshold] characters.
	Large string
}

// Orchestrator runs one voice turn at a time for a single call. It is owned
// by the session; ProcessTurn is called from the session's frame loop via a
// goroutine, never concurrently; an overlapping call returns [ErrBusy].
type Orchestrator struct {
	sttP   stt.Provider
	llmP   llm.Provider
	ttsP   tts.Provider
	models ModelSet

	agent  *agentdir.AgentConfig
	conv   Conversation
	sender Sender
	gate   *playback.Gate

	metrics *observe.Metrics
	usage   *report.Accumulator
	logger  *slog.Logger

	// optimized caches the reordered system prompt; the raw prompt never
	// changes during a call.
	optimized string

	processing atomic.Bool
	speaking   atomic.Int32
}

// New constructs an Orchestrator for one call. All dependencies are
// required; metrics and logger fall back to package defaults when nil.
func New(
	sttP stt.Provider,
	llmP llm.Provider,
	ttsP tts.Provider,
	models ModelSet,
	agent *agentdir.AgentConfig,
	conv Conversation,
	sender Sender,
	gate *playback.Gate,
	usage *report.Accumulator,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sttP:      sttP,
		llmP:      llmP,
		ttsP:      ttsP,
		models:    models,
		agent:     agent,
		conv:      conv,
		sender:    sender,
		gate:      gate,
		metrics:   metrics,
		usage:     usage,
		logger:    logger,
		optimized: prompt.Optimize(agent.SystemPrompt),
	}
}

// Busy reports whether a turn is currently being processed.
func (o *Orchestrator) Busy() bool {
	return o.processing.Load()
}

// Speaking reports whether a synthesis stream is currently emitting frames.
// The session consults it on every inbound media frame to decide whether
// caller energy counts as a barge-in.
func (o *Orchestrator) Speaking() bool {
	return o.speaking.Load() > 0
}

// ProcessTurn runs the full STT → LLM → TTS round for one finalised user
// turn. It returns [ErrBusy] without touching the turn if a previous round
// is still running. A nil error means the turn completed; a superseded
// reply (barge-in mid-playback) is not an error.
func (o *Orchestrator) ProcessTurn(ctx context.Context, turn *vad.Turn) error {
	if !o.processing.CompareAndSwap(false, true) {
		o.metrics.RecordTurn(ctx, "busy")
		return ErrBusy
	}
	defer o.processing.Store(false)

	start := time.Now()
	token := o.gate.Capture()

	// ── Stage 1: transcription ───────────────────────────────────────────

	transcript, err := o.transcribe(ctx, turn)
	if err != nil {
		o.metrics.RecordTurn(ctx, "error")
		return err
	}
	if transcript == "" {
		// Breathing, line noise, a cough. Nothing to answer.
		o.metrics.RecordTurn(ctx, "empty")
		return nil
	}

	o.logger.Debug("user turn transcribed",
		"text", transcript,
		"audio_ms", turn.Duration.Milliseconds(),
	)

	if !o.gate.StillValid(token) {
		// A barge-in landed while the transcription request was in flight.
		// The segmenter is already collecting the caller's new turn, so
		// this one is abandoned before it touches the history.
		o.metrics.RecordTurn(ctx, "superseded")
		return nil
	}

	// History and the turn count are snapshotted before the new user message
	// joins the conversation, so the completion request carries the
	// transcript exactly once and the flow-state block numbers only the
	// turns that came before this one.
	history := o.conv.History()
	priorTurns := o.conv.UserTurns()
	o.conv.AppendUser(transcript)

	// ── Stage 2: completion with first-sentence early start ──────────────

	req := o.buildRequest(history, priorTurns, transcript)
	llmStart := time.Now()
	ch, err := o.llmP.StreamCompletion(ctx, req)
	if err != nil {
		o.metrics.RecordTurn(ctx, "error")
		o.metrics.RecordProviderError(ctx, "llm", "stream")
		return fmt.Errorf("pipeline: stream completion: %w", err)
	}

	var (
		full       strings.Builder
		earlyLen   int
		firstSent  bool
		openerDone chan struct{}
		openerErr  error
	)

	// joinOpener waits for the early synthesis goroutine, when one was
	// launched, and surfaces its error. Everything after the chunk loop
	// reads firstSent and the sent-frame state, so the join must come
	// before the remainder stage.
	joinOpener := func() error {
		if openerDone == nil {
			return nil
		}
		<-openerDone
		return openerErr
	}

	for chunk := range ch {
		if chunk.FinishReason == "error" {
			o.metrics.RecordTurn(ctx, "error")
			o.metrics.RecordProviderError(ctx, "llm", "stream")
			go drainChunks(ch)
			if err := joinOpener(); err != nil {
				o.logger.Debug("early synthesis failed on aborted stream", "err", err)
			}
			return fmt.Errorf("pipeline: completion stream failed: %s", chunk.Text)
		}
		full.WriteString(chunk.Text)

		if openerDone == nil {
			if idx := earlyStartBoundary(full.String()); idx >= 0 {
				earlyLen = idx + 1
				opener := full.String()[:earlyLen]
				// The opener is synthesised on its own goroutine so the
				// rest of the reply keeps streaming during playback.
				openerDone = make(chan struct{})
				go func() {
					defer close(openerDone)
					openerErr = o.speak(ctx, token, opener, start, &firstSent)
				}()
			}
		}
	}

	reply := full.String()
	llmLatency := time.Since(llmStart)
	o.usage.ObserveLLM(llmLatency,
		o.llmP.CountTokens(append(req.Messages, llm.Message{Role: "system", Content: req.SystemPrompt})),
		o.llmP.CountTokens([]llm.Message{{Role: "assistant", Content: reply}}),
	)
	o.metrics.LLMDuration.Record(ctx, llmLatency.Seconds())

	if err := joinOpener(); err != nil {
		o.metrics.RecordTurn(ctx, "error")
		return err
	}

	if reply == "" {
		o.metrics.RecordTurn(ctx, "empty")
		return nil
	}

	// The full reply enters the history even when playback is cut short;
	// the model said it, the caller just didn't hear all of it.
	o.conv.AppendAssistant(reply)
	o.usage.AddTurn()

	// ── Stage 3: speak the remainder ─────────────────────────────────────

	if !o.gate.StillValid(token) {
		// Caller barged in while the reply streamed. The remainder stays
		// unspoken; answering the pre-interruption question now would be
		// worse than silence.
		o.metrics.RecordTurn(ctx, "superseded")
		return nil
	}

	remainder := reply[min(earlyLen, len(reply)):]
	if remainder != "" {
		if err := o.speak(ctx, token, remainder, start, &firstSent); err != nil {
			o.metrics.RecordTurn(ctx, "error")
			return err
		}
	}

	o.metrics.RecordTurn(ctx, "ok")
	return nil
}

// SpeakGreeting synthesises and plays the agent's opening line. Called by
// the session right after the start handshake, before any caller audio.
func (o *Orchestrator) SpeakGreeting(ctx context.Context, greeting string) error {
	if greeting == "" {
		return nil
	}
	token := o.gate.Capture()
	o.conv.AppendAssistant(greeting)
	o.usage.AddTurn()

	var firstSent bool
	return o.speak(ctx, token, greeting, time.Now(), &firstSent)
}

// transcribe runs the batch STT request for one turn and records latency
// and usage.
func (o *Orchestrator) transcribe(ctx context.Context, turn *vad.Turn) (string, error) {
	cfg := stt.Config{
		Language: o.agent.Language,
		Keywords: o.agent.Keywords,
	}

	sttStart := time.Now()
	res, err := o.sttP.Transcribe(ctx, audio.PCM16Bytes(turn.PCM), cfg)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return "", fmt.Errorf("pipeline: transcribe turn: %w", err)
	}
	latency := time.Since(sttStart)

	o.usage.ObserveSTT(latency, res.AudioSeconds)
	o.metrics.STTDuration.Record(ctx, latency.Seconds())

	return strings.TrimSpace(res.Text), nil
}

// buildRequest assembles the completion request: optimized system prompt
// plus flow-state note, the last [historyWindow] prior messages, and the
// fresh transcript. priorTurns counts the user turns that preceded this
// one; the first turn after the greeting carries no flow-state block.
func (o *Orchestrator) buildRequest(history []llm.Message, priorTurns int, transcript string) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString(o.optimized)
	if fs := prompt.FlowState(priorTurns, transcript); fs != "" {
		sys.WriteString("\n\n")
		sys.WriteString(fs)
	}
	sys.WriteString("\n\n")
	sys.WriteString(prompt.Reminder)

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: transcript})

	return llm.CompletionRequest{
		Model:        o.selectModel(sys.String()),
		SystemPrompt: sys.String(),
		Messages:     msgs,
		Temperature:  o.agent.Temperature,
		MaxTokens:    maxCompletionTokens,
	}
}

// selectModel picks the small or large model by system prompt size. Long
// scripted prompts need the larger context and better instruction
// following; short ones do not justify the latency.
func (o *Orchestrator) selectModel(system string) string {
	if len(system) > largeModelThreshold {
		return o.models.Large
	}
	return o.models.Small
}

// speak synthesises text and streams it to the carrier in wire-sized frames.
// Every frame is guarded by the playback token: a stale token aborts the
// stream without error, dropping whatever audio remains. firstSent tracks
// whether the first-audio latency for this turn has been recorded yet.
func (o *Orchestrator) speak(ctx context.Context, token uint64, text string, turnStart time.Time, firstSent *bool) error {
	if !o.gate.StillValid(token) {
		return nil
	}

	o.speaking.Add(1)
	defer o.speaking.Add(-1)

	ttsStart := time.Now()
	stream, err := o.ttsP.Synthesize(ctx, text, tts.Voice{
		ID:    o.agent.VoiceID,
		Model: o.agent.TTSModel,
	})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return fmt.Errorf("pipeline: synthesize: %w", err)
	}
	defer stream.Close()

	rp := audio.NewRepacketizer()
	buf := make([]byte, 4096)

	// Latency is measured to the first synthesised byte, but usage is only
	// billed once at least one frame clears the gate. A reply suppressed
	// before any audio reaches the caller costs nothing.
	var ttsLatency time.Duration
	billed := false
	bill := func() {
		if billed {
			return
		}
		billed = true
		o.usage.ObserveTTS(ttsLatency, len(text))
		o.metrics.TTSDuration.Record(ctx, ttsLatency.Seconds())
	}

	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if ttsLatency == 0 {
				ttsLatency = time.Since(ttsStart)
			}
			for _, frame := range rp.Push(buf[:n]) {
				if !o.gate.StillValid(token) {
					return nil
				}
				bill()
				if err := o.sendFrame(ctx, frame, turnStart, firstSent); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			o.metrics.RecordProviderError(ctx, "tts", "stream")
			return fmt.Errorf("pipeline: read synthesis stream: %w", readErr)
		}
	}

	if tail := rp.Flush(); len(tail) > 0 && o.gate.StillValid(token) {
		bill()
		return o.sendFrame(ctx, tail, turnStart, firstSent)
	}
	return nil
}

// sendFrame forwards one mu-law frame and records first-audio latency on
// the first frame of the turn.
func (o *Orchestrator) sendFrame(ctx context.Context, frame []byte, turnStart time.Time, firstSent *bool) error {
	if err := o.sender.SendMedia(ctx, frame); err != nil {
		return fmt.Errorf("pipeline: send media frame: %w", err)
	}
	if !*firstSent {
		*firstSent = true
		o.metrics.FirstAudioDuration.Record(ctx, time.Since(turnStart).Seconds())
	}
	return nil
}

// earlyStartBoundary returns the index of the first '.', '!' or '?' that
// qualifies for the early start, or -1. The terminator must appear at index
// >= earlyMinIndex and leave a prefix of at least earlyMinPrefix bytes.
// Inverted Spanish punctuation opens a sentence and never terminates one.
func earlyStartBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i >= earlyMinIndex && i+1 >= earlyMinPrefix {
				return i
			}
		}
	}
	return -1
}

// drainChunks discards all remaining chunks from ch so the provider's
// streaming goroutine can finish after an aborted turn.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
