// Command voxbridge is the main entry point for the voxbridge relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voxbridge-ai/voxbridge/internal/agentdir"
	"github.com/voxbridge-ai/voxbridge/internal/calllog"
	"github.com/voxbridge-ai/voxbridge/internal/config"
	"github.com/voxbridge-ai/voxbridge/internal/health"
	"github.com/voxbridge-ai/voxbridge/internal/observe"
	"github.com/voxbridge-ai/voxbridge/internal/pipeline"
	"github.com/voxbridge-ai/voxbridge/internal/report"
	"github.com/voxbridge-ai/voxbridge/internal/resilience"
	"github.com/voxbridge-ai/voxbridge/internal/server"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/llm/openai"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/stt/deepgram"
	"github.com/voxbridge-ai/voxbridge/pkg/provider/tts/elevenlabs"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// .env is a local-development convenience; absence is not an error.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel, cfg.Server.Mode)
	slog.SetDefault(logger)

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"mode", string(cfg.Server.Mode),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxbridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	deps, err := buildDeps(cfg)
	if err != nil {
		slog.Error("failed to build dependencies", "err", err)
		return 1
	}
	deps.Health = health.New(version, string(cfg.Server.Mode))

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := server.New(cfg.Server.ListenAddr, *deps, observe.DefaultMetrics(), logger)

	slog.Info("server ready")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildDeps instantiates the provider clients and backend clients from cfg.
func buildDeps(cfg *config.Config) (*server.Deps, error) {
	deps := &server.Deps{
		Models: pipeline.ModelSet{
			Small: cfg.Providers.LLM.SmallModel,
			Large: cfg.Providers.LLM.LargeModel,
		},
		Rates: buildRates(cfg.Costs),
	}

	// STT is optional at boot: a relay without a transcription key still
	// serves health checks, and sessions fail their start handshake with a
	// clear error instead of a silent pipeline.
	if cfg.Providers.STT.APIKey != "" {
		var opts []deepgram.Option
		if cfg.Providers.STT.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Providers.STT.Model))
		}
		if cfg.Providers.STT.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(cfg.Providers.STT.BaseURL))
		}
		sttP, err := deepgram.New(cfg.Providers.STT.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create stt provider: %w", err)
		}
		deps.Providers.STT = resilience.NewSTTFallback(sttP, "deepgram", resilience.BreakerConfig{})
	} else {
		slog.Warn("no transcription key configured; calls will be rejected at start")
	}

	var llmOpts []openai.Option
	if cfg.Providers.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Providers.LLM.BaseURL))
	}
	llmP, err := openai.New(cfg.Providers.LLM.APIKey, llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	deps.Providers.LLM = resilience.NewLLMFallback(llmP, "openai", resilience.BreakerConfig{})

	var ttsOpts []elevenlabs.Option
	if cfg.Providers.TTS.BaseURL != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithBaseURL(cfg.Providers.TTS.BaseURL))
	}
	ttsP, err := elevenlabs.New(cfg.Providers.TTS.APIKey, ttsOpts...)
	if err != nil {
		return nil, fmt.Errorf("create tts provider: %w", err)
	}
	deps.Providers.TTS = resilience.NewTTSFallback(ttsP, "elevenlabs", resilience.BreakerConfig{})

	agents, err := agentdir.NewClient(cfg.AgentAPI.BaseURL, cfg.AgentAPI.Secret)
	if err != nil {
		return nil, fmt.Errorf("create agent directory client: %w", err)
	}
	deps.Agents = agents

	logs, err := calllog.NewClient(cfg.AgentAPI.BaseURL, cfg.AgentAPI.Secret)
	if err != nil {
		return nil, fmt.Errorf("create call log client: %w", err)
	}
	deps.Logs = logs

	return deps, nil
}

// buildRates overlays configured cost overrides onto the default rate card.
func buildRates(c config.CostsConfig) report.Rates {
	rates := report.DefaultRates()
	if c.STTPerMinute > 0 {
		rates.STTPerMinute = c.STTPerMinute
	}
	if c.LLMInputPerMTok > 0 {
		rates.LLMInputPerMTok = c.LLMInputPerMTok
	}
	if c.LLMOutputPerMTok > 0 {
		rates.LLMOutputPerMTok = c.LLMOutputPerMTok
	}
	if c.TTSPerMChar > 0 {
		rates.TTSPerMChar = c.TTSPerMChar
	}
	return rates
}

// newLogger builds the process logger: human-readable text in development,
// JSON lines in production.
func newLogger(level config.LogLevel, mode config.Mode) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if mode == config.ModeProduction {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
