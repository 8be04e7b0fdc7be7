package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge-ai/voxbridge/internal/agentdir"
	"github.com/voxbridge-ai/voxbridge/internal/calllog"
	"github.com/voxbridge-ai/voxbridge/internal/pipeline"
	"github.com/voxbridge-ai/voxbridge/internal/report"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm"
	llmmock "github.com/voxbridge-ai/voxbridge/pkg/provider/llm/mock"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt"
	sttmock "github.com/voxbridge-ai/voxbridge/pkg/provider/stt/mock"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts"
	ttsmock "github.com/voxbridge-ai/voxbridge/pkg/provider/tts/mock"
)

// ─── test doubles ────────────────────────────────────────────────────────────

// scriptedConn feeds pre-built frames to ReadMessage and records everything
// the session writes back.
type scriptedConn struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte
	closes  int
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{inbound: make(chan []byte, 64)}
}

func (c *scriptedConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *scriptedConn) WriteMessage(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *scriptedConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// awaitWrite polls until a written frame satisfies pred or the deadline hits.
func (c *scriptedConn) awaitWrite(t *testing.T, pred func([]byte) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, fr := range c.writtenFrames() {
			if pred(fr) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected frame was never written")
}

type fakeSink struct {
	mu      sync.Mutex
	reports []*calllog.Report
}

func (s *fakeSink) Post(_ context.Context, r *calllog.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *fakeSink) posted() []*calllog.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*calllog.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

type fakeFetcher struct {
	mu    sync.Mutex
	agent *agentdir.AgentConfig
	err   error
	gotID string
}

func (f *fakeFetcher) Fetch(_ context.Context, agentID string) (*agentdir.AgentConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotID = agentID
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

// ctxBoundTTS blocks Synthesize until the caller's context is cancelled,
// like a stalled upstream with no per-read deadline.
type ctxBoundTTS struct{}

func (ctxBoundTTS) Synthesize(ctx context.Context, _ string, _ tts.Voice) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ─── frame builders ──────────────────────────────────────────────────────────

func twilioStart(streamID string, params map[string]string) []byte {
	frame := map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        streamID,
			"callSid":          "CA-test",
			"customParameters": params,
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

func twilioMediaFrame(payload []byte) []byte {
	frame := map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(payload)},
	}
	data, _ := json.Marshal(frame)
	return data
}

func stopFrame() []byte {
	return []byte(`{"event":"stop"}`)
}

// outboundEvent decodes the event and stream fields of a written frame.
func outboundEvent(data []byte) (event, streamSid string) {
	var f struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
	}
	json.Unmarshal(data, &f)
	return f.Event, f.StreamSid
}

// ─── fixtures ────────────────────────────────────────────────────────────────

type sessionFixture struct {
	conn *scriptedConn
	sink *fakeSink
	stt  *sttmock.Provider
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	sess *Session
}

func newSessionFixture(agent *agentdir.AgentConfig) *sessionFixture {
	f := &sessionFixture{
		conn: newScriptedConn(),
		sink: &fakeSink{},
		stt:  &sttmock.Provider{Result: &stt.Result{Text: "hola", AudioSeconds: 0.5}},
		llm:  &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Claro, con mucho gusto le ayudo."}}},
		tts:  &ttsmock.Provider{Audio: make([]byte, 160)},
	}
	if agent == nil {
		agent = agentdir.Default()
	}
	f.sess = New(Params{
		Conn:      f.conn,
		Providers: Providers{STT: f.stt, LLM: f.llm, TTS: f.tts},
		Models:    pipeline.ModelSet{Small: "small", Large: "large"},
		Agents:    &fakeFetcher{agent: agent},
		Logs:      f.sink,
		Rates:     report.DefaultRates(),
	})
	return f
}

// run starts the frame loop and returns a channel carrying its result.
func (f *sessionFixture) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestSession_GreetingAndReport(t *testing.T) {
	agent := agentdir.Default()
	agent.Greeting = "Hola, le atiende Ana."

	f := newSessionFixture(agent)
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", map[string]string{
		"agent_id":    "agent-7",
		"call_log_id": "cl-7",
	})

	// The greeting is synthesised on its own goroutine; wait for its media
	// frame before hanging up so finalize cannot race it.
	f.conn.awaitWrite(t, func(data []byte) bool {
		ev, sid := outboundEvent(data)
		return ev == "media" && sid == "MZ123"
	})
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.tts.SpokenTexts(); len(got) != 1 || got[0] != "Hola, le atiende Ana." {
		t.Errorf("spoken = %q", got)
	}

	reports := f.sink.posted()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	rep := reports[0]
	if rep.CallLogID != "cl-7" {
		t.Errorf("call_log_id = %q", rep.CallLogID)
	}
	if rep.Status != "completed" {
		t.Errorf("status = %q", rep.Status)
	}
	if rep.Usage.TurnsCount != 1 {
		t.Errorf("turns = %d, want 1 (greeting)", rep.Usage.TurnsCount)
	}
	if len(rep.Transcript) != 1 || rep.Transcript[0].Role != "assistant" {
		t.Errorf("transcript = %+v", rep.Transcript)
	}
	if rep.EndedAt.Location() != time.UTC {
		t.Error("ended_at not in UTC")
	}
}

func TestSession_FullTurnRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("drives the segmenter on the wall clock")
	}

	agent := agentdir.Default()
	agent.Greeting = ""
	agent.SilenceDurationMs = 100
	agent.PrefixPaddingMs = 60

	f := newSessionFixture(agent)
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ456", map[string]string{"call_log_id": "cl-8"})

	// 350 ms of loud speech then 150 ms of silence closes the turn.
	loud := make([]byte, 160)  // 0x00 decodes to full-scale PCM
	quiet := make([]byte, 160)
	for i := range quiet {
		quiet[i] = 0xFF
	}
	for i := 0; i < 35; i++ {
		f.conn.inbound <- twilioMediaFrame(loud)
		time.Sleep(10 * time.Millisecond)
	}
	for i := 0; i < 15; i++ {
		f.conn.inbound <- twilioMediaFrame(quiet)
		time.Sleep(10 * time.Millisecond)
	}

	f.conn.awaitWrite(t, func(data []byte) bool {
		ev, sid := outboundEvent(data)
		return ev == "media" && sid == "MZ456"
	})
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if f.stt.CallCount() != 1 {
		t.Fatalf("transcriptions = %d, want 1", f.stt.CallCount())
	}

	reports := f.sink.posted()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	rep := reports[0]
	if rep.CallLogID != "cl-8" {
		t.Errorf("call_log_id = %q", rep.CallLogID)
	}
	if rep.Usage.TurnsCount != 1 {
		t.Errorf("turns = %d, want 1", rep.Usage.TurnsCount)
	}
	if rep.Usage.VoiceActivityPct <= 0 {
		t.Errorf("voice activity = %f, want > 0", rep.Usage.VoiceActivityPct)
	}

	var haveUser, haveAssistant bool
	for _, e := range rep.Transcript {
		switch e.Role {
		case "user":
			haveUser = e.Text == "hola"
		case "assistant":
			haveAssistant = e.Text == "Claro, con mucho gusto le ayudo."
		}
	}
	if !haveUser || !haveAssistant {
		t.Errorf("transcript = %+v", rep.Transcript)
	}
}

func TestSession_DuplicateStartIsIgnored(t *testing.T) {
	agent := agentdir.Default()
	agent.Greeting = "Hola."

	f := newSessionFixture(agent)
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ-first", nil)
	f.conn.inbound <- twilioStart("MZ-second", nil)

	f.conn.awaitWrite(t, func(data []byte) bool {
		ev, _ := outboundEvent(data)
		return ev == "media"
	})
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The stream identifier binds to the first start frame.
	for _, fr := range f.conn.writtenFrames() {
		if ev, sid := outboundEvent(fr); ev == "media" && sid != "MZ-first" {
			t.Errorf("media frame bound to %q, want MZ-first", sid)
		}
	}
	if got := len(f.sink.posted()); got != 1 {
		t.Errorf("reports = %d, want 1", got)
	}
}

func TestSession_NoSTTProviderFailsStart(t *testing.T) {
	f := newSessionFixture(nil)
	f.sess.providers.STT = nil
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", nil)

	err := waitDone(t, done)
	if err == nil {
		t.Fatal("Run = nil, want error without a transcription provider")
	}
	if got := len(f.sink.posted()); got != 0 {
		t.Errorf("reports = %d, want none for a failed handshake", got)
	}
	if f.conn.closes == 0 {
		t.Error("connection not closed")
	}
}

func TestSession_MalformedFramesAreSkipped(t *testing.T) {
	agent := agentdir.Default()
	agent.Greeting = "Hola."

	f := newSessionFixture(agent)
	done := f.run(context.Background())

	f.conn.inbound <- []byte("{not json")
	f.conn.inbound <- []byte(`{"event":"teleport"}`)
	f.conn.inbound <- twilioStart("MZ123", nil)

	f.conn.awaitWrite(t, func(data []byte) bool {
		ev, _ := outboundEvent(data)
		return ev == "media"
	})
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(f.sink.posted()); got != 1 {
		t.Errorf("reports = %d, want 1", got)
	}
}

func TestSession_SocketCloseEndsCall(t *testing.T) {
	f := newSessionFixture(nil)
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", map[string]string{"call_log_id": "cl-9"})
	close(f.conn.inbound) // carrier hangs up without a stop frame

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reports := f.sink.posted()
	if len(reports) != 1 || reports[0].CallLogID != "cl-9" {
		t.Fatalf("reports = %+v, want one for cl-9", reports)
	}
}

func TestSession_EndOfCallCancelsInFlightSynthesis(t *testing.T) {
	agent := agentdir.Default()
	agent.Greeting = "Hola, le atiende Ana."

	f := newSessionFixture(agent)
	f.sess.providers.TTS = ctxBoundTTS{}
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", map[string]string{"call_log_id": "cl-10"})
	close(f.conn.inbound) // hang up while the greeting synthesis is stuck

	// Finalize must cancel the stuck provider call; otherwise the report
	// never goes out and Run never returns.
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reports := f.sink.posted()
	if len(reports) != 1 || reports[0].CallLogID != "cl-10" {
		t.Fatalf("reports = %+v, want one for cl-10", reports)
	}
}

func TestSession_GeneratesCallLogIDWhenAbsent(t *testing.T) {
	f := newSessionFixture(nil)
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", nil)
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reports := f.sink.posted()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].CallLogID == "" {
		t.Error("call_log_id empty, want a generated identifier")
	}
}

func TestSession_DirectoryOutageFallsBackToDefaults(t *testing.T) {
	f := newSessionFixture(nil)
	f.sess.agents = &fakeFetcher{err: errors.New("directory down")}
	f.sess.agentID = "agent-7"
	done := f.run(context.Background())

	f.conn.inbound <- twilioStart("MZ123", nil)

	// The default agent has no greeting; the media frame to wait for is the
	// reply to nothing, so just hang up and check the call survived.
	f.conn.inbound <- stopFrame()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(f.sink.posted()); got != 1 {
		t.Errorf("reports = %d, want 1", got)
	}
}

func TestSendMedia_DroppedAfterCallEnds(t *testing.T) {
	f := newSessionFixture(nil)
	f.sess.provider = "twilio"
	f.sess.streamID = "MZ123"

	f.sess.endedMu.Lock()
	f.sess.callEnded = true
	f.sess.endedMu.Unlock()

	if err := f.sess.SendMedia(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if err := f.sess.SendClear(context.Background()); err != nil {
		t.Fatalf("SendClear: %v", err)
	}
	if got := len(f.conn.writtenFrames()); got != 0 {
		t.Errorf("frames written after end = %d, want 0", got)
	}
}
