// Package session owns all per-call state for one carrier WebSocket
// connection: the frame loop, the VAD segmenter, the playback gate, the
// conversation history, and the end-of-call report.
//
// A Session lives on a single goroutine (the frame loop). The only
// concurrent actors are the orchestrator's turn goroutine, which writes
// outbound frames through the mutex-guarded [Session.SendMedia], and the
// greeting synthesis started during the start handshake.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge-ai/voxbridge/internal/agentdir"
	"github.com/voxbridge-ai/voxbridge/internal/calllog"
	"github.com/voxbridge-ai/voxbridge/internal/observe"
	"github.com/voxbridge-ai/voxbridge/internal/pipeline"
	"github.com/voxbridge-ai/voxbridge/internal/playback"
	"github.com/voxbridge-ai/voxbridge/internal/report"
	"github.com/voxbridge-ai/voxbridge/pkg/g711"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
	"github.com/voxbridge-ai/voxbridge/pkg/telephony"
	"github.com/voxbridge-ai/voxbridge/pkg/vad"
)

const (
	// bargeInThresholdDB is the inbound energy above which caller audio
	// interrupts active playback. It sits above the turn-detection
	// threshold so echo and background murmur do not cut the agent off.
	bargeInThresholdDB = -35.0

	// agentFetchTimeout bounds the agent-config lookup during the start
	// handshake. The greeting waits on it.
	agentFetchTimeout = 5 * time.Second

	// reportTimeout bounds the end-of-call report POST.
	reportTimeout = 10 * time.Second
)

// Call statuses reported in the final call log.
const (
	statusCompleted = "completed"
	statusError     = "error"
)

// Conn is the carrier WebSocket as the session sees it. The server package
// adapts the real connection; tests supply a scripted fake.
type Conn interface {
	// ReadMessage blocks until the next text message arrives.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends one text message.
	WriteMessage(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Providers bundles one provider per pipeline stage. STT may be nil when no
// transcription key is configured; such sessions terminate at the start
// handshake rather than run a mute pipeline.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// Params carries everything a Session needs. AgentID, CallLogID and
// ProviderHint come from the upgrade URL; the start frame's values win when
// both are present.
type Params struct {
	Conn      Conn
	Providers Providers
	Models    pipeline.ModelSet
	Agents    agentdir.Fetcher
	Logs      calllog.Sink
	Rates     report.Rates
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	AgentID      string
	CallLogID    string
	ProviderHint telephony.Provider
}

// Session is the per-call state machine.
type Session struct {
	conn      Conn
	providers Providers
	models    pipeline.ModelSet
	agents    agentdir.Fetcher
	logs      calllog.Sink
	rates     report.Rates
	metrics   *observe.Metrics
	logger    *slog.Logger

	provider  telephony.Provider
	agentID   string
	callLogID string
	streamID  string
	callID    string

	started   bool
	startTime time.Time
	status    string

	gate  *playback.Gate
	conv  *conversation
	usage *report.Accumulator
	seg   *vad.Segmenter
	orch  *pipeline.Orchestrator

	// writeMu serialises outbound frames; the turn goroutine and the
	// greeting goroutine both write.
	writeMu   sync.Mutex
	callEnded bool
	endedMu   sync.Mutex

	// scratch holds decoded PCM for the barge-in energy check.
	scratch []int16

	// wg tracks the turn and greeting goroutines; finalize cancels the
	// session context to unblock their provider I/O, then waits for them
	// before posting the report.
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Session from params. Metrics and logger fall back to
// package defaults when nil.
func New(p Params) *Session {
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Session{
		conn:      p.Conn,
		providers: p.Providers,
		models:    p.Models,
		agents:    p.Agents,
		logs:      p.Logs,
		rates:     p.Rates,
		metrics:   p.Metrics,
		logger:    p.Logger,
		provider:  p.ProviderHint,
		agentID:   p.AgentID,
		callLogID: p.CallLogID,
		status:    statusCompleted,
		gate:      playback.NewGate(),
		conv:      &conversation{},
	}
}

// Run drives the frame loop until the carrier hangs up, a stop frame
// arrives, or ctx is cancelled. It always finalizes the call before
// returning.
func (s *Session) Run(ctx context.Context) error {
	// Every provider call made by the turn and greeting goroutines descends
	// from this context; finalize cancels it so a hung STT upload or a
	// stalled synthesis stream cannot outlive the call.
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.finalize(ctx)

	for {
		data, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && s.started {
				s.logger.Debug("carrier socket closed", "err", err)
			}
			return nil
		}

		frame, err := telephony.Decode(data)
		if err != nil {
			s.metrics.MalformedFrames.Add(ctx, 1)
			s.logger.Warn("malformed carrier frame", "err", err)
			continue
		}

		switch frame.Event {
		case telephony.EventStart:
			if err := s.handleStart(ctx, frame); err != nil {
				s.status = statusError
				return err
			}
		case telephony.EventMedia:
			s.handleMedia(ctx, frame)
		case telephony.EventStop:
			s.logger.Info("stop frame received", "call_log_id", s.callLogID)
			return nil
		}
	}
}

// handleStart performs the start handshake: provider detection, identifier
// binding, agent-config fetch, segmenter and orchestrator construction,
// and the greeting.
func (s *Session) handleStart(ctx context.Context, frame *telephony.Frame) error {
	if s.started {
		// The stream identifier binds exactly once.
		s.logger.Warn("duplicate start frame ignored", "stream_id", s.streamID)
		return nil
	}
	s.started = true
	s.startTime = time.Now()

	s.provider = frame.Provider
	s.streamID = frame.Start.StreamID
	s.callID = frame.Start.CallID
	if frame.Start.AgentID != "" {
		s.agentID = frame.Start.AgentID
	}
	if frame.Start.CallLogID != "" {
		s.callLogID = frame.Start.CallLogID
	}
	if s.callLogID == "" {
		s.callLogID = uuid.NewString()
	}

	s.metrics.ActiveCalls.Add(ctx, 1)
	s.logger.Info("call started",
		"provider", string(s.provider),
		"stream_id", s.streamID,
		"agent_id", s.agentID,
		"call_log_id", s.callLogID,
	)

	if s.providers.STT == nil {
		return errors.New("session: no transcription provider configured")
	}

	agent := s.fetchAgent(ctx)
	s.seg = vad.NewSegmenter(vad.Config{
		SilenceThresholdDB: agent.SilenceThresholdDB,
		SilenceDuration:    time.Duration(agent.SilenceDurationMs) * time.Millisecond,
		PrefixPadding:      time.Duration(agent.PrefixPaddingMs) * time.Millisecond,
	})
	s.usage = report.NewAccumulator(s.rates)
	s.orch = pipeline.New(
		s.providers.STT,
		s.providers.LLM,
		s.providers.TTS,
		s.models,
		agent,
		s.conv,
		s,
		s.gate,
		s.usage,
		s.metrics,
		s.logger,
	)

	if agent.Greeting != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.orch.SpeakGreeting(ctx, agent.Greeting); err != nil {
				s.logger.Error("greeting synthesis failed", "err", err)
			}
		}()
	}
	return nil
}

// fetchAgent resolves the agent configuration, falling back to the built-in
// defaults when the directory is unreachable. The call must proceed either
// way; a generic agent beats a dropped call.
func (s *Session) fetchAgent(ctx context.Context) *agentdir.AgentConfig {
	if s.agents == nil || s.agentID == "" {
		return agentdir.Default()
	}

	fctx, cancel := context.WithTimeout(ctx, agentFetchTimeout)
	defer cancel()

	agent, err := s.agents.Fetch(fctx, s.agentID)
	if err != nil {
		s.logger.Warn("agent config fetch failed, using defaults",
			"agent_id", s.agentID,
			"err", err,
		)
		return agentdir.Default()
	}
	return agent
}

// handleMedia runs the barge-in check, feeds the segmenter, and launches
// the pipeline when a turn finalises while the orchestrator is idle.
func (s *Session) handleMedia(ctx context.Context, frame *telephony.Frame) {
	if !s.started || len(frame.Payload) == 0 {
		return
	}

	if s.orch.Speaking() {
		if cap(s.scratch) < len(frame.Payload) {
			s.scratch = make([]int16, len(frame.Payload))
		}
		pcm := s.scratch[:len(frame.Payload)]
		g711.DecodeSlice(pcm, frame.Payload)
		if g711.RMSDB(pcm) >= bargeInThresholdDB {
			s.metrics.BargeIns.Add(ctx, 1)
			s.gate.Bump()
			if err := s.SendClear(ctx); err != nil {
				s.logger.Warn("clear frame send failed", "err", err)
			}
			s.logger.Debug("barge-in", "call_log_id", s.callLogID)
		}
	}

	turn := s.seg.Push(frame.Payload, time.Now())
	if turn == nil {
		return
	}

	if s.orch.Busy() {
		// One turn in flight per session. The caller spoke over a reply
		// that is still being produced; this turn is dropped, not queued.
		s.metrics.RecordTurn(ctx, "busy")
		s.logger.Debug("turn dropped, pipeline busy",
			"turn_ms", turn.Duration.Milliseconds(),
		)
		return
	}

	// Invalidate whatever playback is still draining before the new turn
	// captures its token.
	s.gate.Bump()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.orch.ProcessTurn(ctx, turn); err != nil && !errors.Is(err, pipeline.ErrBusy) {
			s.logger.Error("turn processing failed", "err", err)
		}
	}()
}

// ─── pipeline.Sender ─────────────────────────────────────────────────────────

// SendMedia emits one mu-law payload as a carrier media frame. Once the
// call has ended all outbound frames are silently dropped.
func (s *Session) SendMedia(ctx context.Context, payload []byte) error {
	if s.ended() {
		return nil
	}
	data, err := telephony.EncodeMedia(s.provider, s.streamID, payload)
	if err != nil {
		return fmt.Errorf("session: encode media frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(ctx, data)
}

// SendClear tells the carrier to drop its buffered playback.
func (s *Session) SendClear(ctx context.Context) error {
	if s.ended() {
		return nil
	}
	data, err := telephony.EncodeClear(s.provider, s.streamID)
	if err != nil {
		return fmt.Errorf("session: encode clear frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(ctx, data)
}

func (s *Session) ended() bool {
	s.endedMu.Lock()
	defer s.endedMu.Unlock()
	return s.callEnded
}

// finalize marks the call ended, cancels the session context, waits for
// in-flight turn work, posts the call report, and closes the socket. Runs
// exactly once, from Run's defer.
func (s *Session) finalize(ctx context.Context) {
	s.endedMu.Lock()
	s.callEnded = true
	s.endedMu.Unlock()
	s.gate.End()
	s.cancel()

	defer s.conn.Close()

	if !s.started {
		return
	}

	s.metrics.ActiveCalls.Add(ctx, -1)
	s.wg.Wait()

	if s.seg == nil || s.usage == nil {
		// Start handshake failed before the pipeline came up; there is no
		// usage to report.
		return
	}

	dur := time.Since(s.startTime)
	stats := s.seg.Stats()
	var voicePct float64
	if stats.FramesReceived > 0 {
		voicePct = float64(stats.FramesVoiced) / float64(stats.FramesReceived) * 100
	}

	rep := &calllog.Report{
		CallLogID:       s.callLogID,
		DurationSeconds: dur.Seconds(),
		Transcript:      s.conv.Transcript(),
		Status:          s.status,
		EndedAt:         time.Now().UTC(),
		Usage:           s.usage.Usage(voicePct),
	}

	s.logger.Info("call ended",
		"call_log_id", s.callLogID,
		"status", s.status,
		"duration_s", dur.Seconds(),
		"turns", rep.Usage.TurnsCount,
		"estimated_cost", rep.Usage.EstimatedCost,
	)

	if s.logs == nil {
		return
	}
	// The frame-loop context is usually already cancelled by now; the
	// report still has to go out.
	pctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := s.logs.Post(pctx, rep); err != nil {
		s.logger.Error("call report post failed", "call_log_id", s.callLogID, "err", err)
	}
}
