// Command voxloop is the main entry point for the voxloop voice dialogue
// server. It bridges carrier media streams with streaming STT, LLM, and TTS
// providers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/dialogue"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/telephony"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	"github.com/voxloop/voxloop/pkg/provider/stt/vito"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxloop starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxloop",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Dialogue registry ─────────────────────────────────────────────────────
	sessions := dialogue.NewRegistry(dialogue.RegistryConfig{
		SystemPrompt: cfg.Dialogue.SystemPrompt,
		Session: dialogue.SessionConfig{
			STT: stt.StreamConfig{
				SampleRate: 8000,
				Encoding:   "MULAW",
			},
			TTS: tts.StreamConfig{
				VoiceID:         cfg.Providers.TTS.VoiceID,
				OutputFormat:    "ulaw_8000",
				Stability:       cfg.Providers.TTS.Stability,
				SimilarityBoost: cfg.Providers.TTS.Similarity,
				Speed:           cfg.Providers.TTS.Speed,
			},
			LLM: dialogue.LLMParams{
				Temperature: cfg.Providers.LLM.Temperature,
				MaxTokens:   cfg.Providers.LLM.MaxTokens,
			},
			Tunables: tunablesFromConfig(cfg.Dialogue),
		},
	}, providers, logger, metrics)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	media := telephony.NewServer(sessions, logger)

	probes := health.New(
		health.CheckFunc("accepting", func(context.Context) error {
			if ctx.Err() != nil {
				return errors.New("shutting down")
			}
			return nil
		}),
	)

	// The media route stays outside the observability middleware: the WS
	// upgrade needs the raw ResponseWriter (http.Hijacker).
	obsMux := http.NewServeMux()
	probes.Register(obsMux)
	obsMux.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("GET /media", media)
	mux.Handle("/", observe.Middleware(metrics)(obsMux))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	// ── Serve until signalled ─────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// Stop accepting new streams first, then drain active calls.
		err := server.Shutdown(shutdownCtx)
		sessions.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the four upstream services from cfg. The LLM
// and TTS go through the provider registry; STT and VAD have a single
// built-in implementation each.
func buildProviders(cfg *config.Config) (dialogue.Providers, error) {
	var ps dialogue.Providers

	reg := config.DefaultRegistry()

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return ps, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = llmProvider
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if fb := cfg.Providers.LLM.FallbackName; fb != "" {
		fbCfg := cfg.Providers.LLM
		fbCfg.Name = fb
		if fbCfg.FallbackAPIKey != "" {
			fbCfg.APIKey = fbCfg.FallbackAPIKey
		}
		fbProvider, err := reg.CreateLLM(fbCfg)
		if err != nil {
			return ps, fmt.Errorf("create llm fallback %q: %w", fb, err)
		}
		group := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(fb, fbProvider)
		ps.LLM = group
		slog.Info("provider fallback enabled", "kind", "llm", "fallback", fb)
	}

	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return ps, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Vendor, err)
	}
	ps.TTS = ttsProvider
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Vendor)

	if fb := cfg.Providers.TTS.FallbackVendor; fb != "" {
		fbCfg := cfg.Providers.TTS
		fbCfg.Vendor = fb
		if fbCfg.FallbackAPIKey != "" {
			fbCfg.APIKey = fbCfg.FallbackAPIKey
		}
		fbProvider, err := reg.CreateTTS(fbCfg)
		if err != nil {
			return ps, fmt.Errorf("create tts fallback %q: %w", fb, err)
		}
		group := resilience.NewTTSFallback(ttsProvider, cfg.Providers.TTS.Vendor, resilience.FallbackConfig{})
		group.AddFallback(fb, fbProvider)
		ps.TTS = group
		slog.Info("provider fallback enabled", "kind", "tts", "fallback", fb)
	}

	var sttOpts []vito.Option
	if cfg.Providers.STT.Model != "" {
		sttOpts = append(sttOpts, vito.WithModelName(cfg.Providers.STT.Model))
	}
	sttProvider, err := vito.New(cfg.Providers.STT.ClientID, cfg.Providers.STT.ClientSecret, sttOpts...)
	if err != nil {
		return ps, fmt.Errorf("create stt provider: %w", err)
	}
	ps.STT = sttProvider
	slog.Info("provider created", "kind", "stt", "name", "vito")

	ps.VAD = energy.New()
	return ps, nil
}

// tunablesFromConfig converts the millisecond config fields into dialogue
// timing tunables. Zero values pass through so the dialogue defaults apply.
func tunablesFromConfig(d config.DialogueConfig) dialogue.Tunables {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return dialogue.Tunables{
		SilenceHangover:    ms(d.SilenceHangoverMS),
		InterruptFast:      ms(d.InterruptFastMS),
		InterruptSafety:    ms(d.InterruptSafetyMS),
		InterruptTTSRecent: ms(d.InterruptTTSRecentMS),
		HistoryRollback:    ms(d.HistoryRollbackMS),
		FlushQuiet:         ms(d.FlushQuietMS),
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxloop — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", "vito", cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Vendor, cfg.Providers.TTS.Model)
	printProvider("VAD", "energy", "")
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr : %-22s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS         : %-22s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-11s : %-22s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
