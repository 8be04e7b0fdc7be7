// Package server exposes the relay's HTTP surface: the carrier WebSocket
// endpoint, health probes, and the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge-ai/voxbridge/internal/agentdir"
	"github.com/voxbridge-ai/voxbridge/internal/calllog"
	"github.com/voxbridge-ai/voxbridge/internal/health"
	"github.com/voxbridge-ai/voxbridge/internal/observe"
	"github.com/voxbridge-ai/voxbridge/internal/pipeline"
	"github.com/voxbridge-ai/voxbridge/internal/report"
	"github.com/voxbridge-ai/voxbridge/internal/session"
	"github.com/voxbridge-ai/voxbridge/pkg/telephony"
)

// shutdownTimeout bounds graceful shutdown once the run context ends.
// Active calls get this long to finish their frame loops.
const shutdownTimeout = 10 * time.Second

// Deps bundles everything a call session needs. The server itself only
// routes; all call semantics live in the session package.
type Deps struct {
	Providers session.Providers
	Models    pipeline.ModelSet
	Agents    agentdir.Fetcher
	Logs      calllog.Sink
	Rates     report.Rates
	Health    *health.Handler
}

// Server is the relay's HTTP front. Construct with [New], start with
// [Server.Run].
type Server struct {
	addr    string
	deps    Deps
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates a Server listening on addr. Metrics and logger fall back to
// package defaults when nil.
func New(addr string, deps Deps, metrics *observe.Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		deps:    deps,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for httptest use.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.deps.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /call", s.handleCall)
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

// handleCall upgrades the carrier connection and hands it to a Session.
// Query parameters carry routing hints; the start frame's values win when
// both are present.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent_id")
	callLogID := q.Get("call_log_id")
	hint := telephony.Provider(q.Get("provider"))
	if !hint.IsValid() {
		hint = telephony.ProviderTwilio
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Carriers connect server-to-server; there is no browser origin
		// to check.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sess := session.New(session.Params{
		Conn:         &wsConn{conn: conn},
		Providers:    s.deps.Providers,
		Models:       s.deps.Models,
		Agents:       s.deps.Agents,
		Logs:         s.deps.Logs,
		Rates:        s.deps.Rates,
		Metrics:      s.metrics,
		Logger:       s.logger.With("agent_id", agentID),
		AgentID:      agentID,
		CallLogID:    callLogID,
		ProviderHint: hint,
	})

	if err := sess.Run(r.Context()); err != nil {
		s.logger.Error("session terminated", "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
}

// wsConn adapts a coder/websocket connection to [session.Conn]. Carrier
// frames are JSON text messages in both directions.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "call ended")
}
