// Command lingopair is the main entry point for the lingopair translation
// server.
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
	"time"

	anyllm "github.com/mozilla-ai/any-llm-go"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/lingopair/lingopair/internal/archive"
	"github.com/lingopair/lingopair/internal/config"
	"github.com/lingopair/lingopair/internal/health"
	"github.com/lingopair/lingopair/internal/observe"
	"github.com/lingopair/lingopair/internal/pipeline"
	"github.com/lingopair/lingopair/internal/recording"
	"github.com/lingopair/lingopair/internal/resilience"
	"github.com/lingopair/lingopair/internal/room"
	"github.com/lingopair/lingopair/internal/server"
	"github.com/lingopair/lingopair/pkg/provider/asr"
	asropenai "github.com/lingopair/lingopair/pkg/provider/asr/openai"
	"github.com/lingopair/lingopair/pkg/provider/asr/whisper"
	"github.com/lingopair/lingopair/pkg/provider/mt"
	mtllm "github.com/lingopair/lingopair/pkg/provider/mt/llm"
	"github.com/lingopair/lingopair/pkg/provider/mt/nllb"
	"github.com/lingopair/lingopair/pkg/provider/tts"
	"github.com/lingopair/lingopair/pkg/provider/tts/piper"
	"github.com/lingopair/lingopair/pkg/provider/vad"
	"github.com/lingopair/lingopair/pkg/provider/vad/energy"
	"github.com/lingopair/lingopair/pkg/provider/vad/silero"
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
			fmt.Fprintf(os.Stderr, "lingopair: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingopair: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lingopair starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	promRegistry := promclient.NewRegistry()
	shutdownMetrics, err := observe.InitProvider(promRegistry, version)
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(nil)
	if err != nil {
		slog.Error("failed to build instruments", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, vadEngine, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Recording store (optional) ────────────────────────────────────────────
	var recordings *recording.Store
	if cfg.Recording.Enabled {
		recordings, err = recording.NewStore(cfg.Recording.Dir, logger)
		if err != nil {
			slog.Error("failed to open recording store", "err", err)
			return 1
		}
		slog.Info("session recording enabled", "dir", cfg.Recording.Dir)
	}

	// ── Transcript archive (optional) ─────────────────────────────────────────
	transcripts, err := archive.Open(ctx, cfg.Archive.PostgresDSN)
	if err != nil {
		slog.Error("failed to open transcript archive", "err", err)
		return 1
	}
	defer transcripts.Close()

	var checkers []health.Checker
	if transcripts != nil {
		checkers = append(checkers, health.Checker{Name: "archive", Check: transcripts.Ping})
		slog.Info("transcript archive enabled")
	}

	// ── Room registry and worker pool ─────────────────────────────────────────
	rooms := room.NewRegistry(roomConfig(cfg.Rooms), metrics, logger)
	workers := pipeline.NewWorkers(cfg.Pipeline.WorkerConcurrency)

	printStartupSummary(cfg)

	srv := server.New(server.Deps{
		Config:     cfg,
		Log:        logger,
		Metrics:    metrics,
		Rooms:      rooms,
		Providers:  providers,
		VAD:        vadEngine,
		Workers:    workers,
		Recordings: recordings,
		Archive:    transcripts,
		Health:     health.New(version, checkers...),
		Prom:       promRegistry,
	})

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")

	workers.Wait()
	closeProviders(providers, vadEngine)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps capability names to the implementations that ship with
// lingopair. Used for startup logging.
var builtinProviders = map[string][]string{
	"asr": {"whisper", "openai"},
	"mt":  {"nllb", "openai", "anthropic", "ollama", "mistral", "groq", "llamacpp"},
	"tts": {"piper"},
	"vad": {"silero", "energy"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.ModelPath, opts...)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []asropenai.Option
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		return asropenai.New(entry.APIKey, opts...)
	})

	// ── MT ────────────────────────────────────────────────────────────────────
	// The chat-model backends share one pattern: optional APIKey + optional
	// BaseURL through any-llm.
	for _, providerName := range []string{
		"openai", "anthropic", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterMT(providerName, func(entry config.ProviderEntry) (mt.Provider, error) {
			var opts []anyllm.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
			}
			return mtllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterMT("ollama", func(entry config.ProviderEntry) (mt.Provider, error) {
		var opts []anyllm.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
		}
		return mtllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterMT("nllb", func(entry config.ProviderEntry) (mt.Provider, error) {
		return nllb.New(entry.BaseURL)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		return piper.New(optStringMap(entry.Options, "voices"))
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return silero.New(entry.ModelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg and wraps the model
// capabilities in circuit breakers so a dead backend degrades the session
// instead of stalling it at the stage deadline.
func buildProviders(cfg *config.Config, reg *config.Registry) (pipeline.Providers, vad.Engine, error) {
	var ps pipeline.Providers

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if err != nil {
			return ps, nil, fmt.Errorf("create asr provider %q: %w", name, err)
		}
		ps.ASR = resilience.NewASRFallback(p, name, resilience.DefaultBreakerConfig())
		ps.ASRName = name
		slog.Info("provider created", "kind", "asr", "name", name)
	}

	if name := cfg.Providers.MT.Name; name != "" {
		p, err := reg.CreateMT(cfg.Providers.MT)
		if err != nil {
			return ps, nil, fmt.Errorf("create mt provider %q: %w", name, err)
		}
		ps.MT = resilience.NewMTFallback(p, name, resilience.DefaultBreakerConfig())
		ps.MTName = name
		slog.Info("provider created", "kind", "mt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return ps, nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = resilience.NewTTSFallback(p, name, resilience.DefaultBreakerConfig())
		ps.TTSName = name
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if ps.ASR == nil {
		return ps, nil, errors.New("no asr provider configured")
	}

	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return ps, nil, fmt.Errorf("create vad engine %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	return ps, vadEngine, nil
}

func closeProviders(ps pipeline.Providers, vadEngine vad.Engine) {
	if ps.ASR != nil {
		if err := ps.ASR.Close(); err != nil {
			slog.Warn("asr close error", "err", err)
		}
	}
	if ps.MT != nil {
		if err := ps.MT.Close(); err != nil {
			slog.Warn("mt close error", "err", err)
		}
	}
	if ps.TTS != nil {
		if err := ps.TTS.Close(); err != nil {
			slog.Warn("tts close error", "err", err)
		}
	}
	if vadEngine != nil {
		if err := vadEngine.Close(); err != nil {
			slog.Warn("vad close error", "err", err)
		}
	}
}

// roomConfig converts the validated YAML values to registry durations.
func roomConfig(rc config.RoomsConfig) room.Config {
	return room.Config{
		CodeLength:    rc.CodeLength,
		IdleTTL:       time.Duration(rc.IdleTTLSeconds) * time.Second,
		SweepInterval: time.Duration(rc.SweepIntervalSeconds) * time.Second,
		LockoutMargin: time.Duration(rc.LockoutMarginMs) * time.Millisecond,
		LockoutMin:    time.Duration(rc.LockoutMinMs) * time.Millisecond,
		LockoutMax:    time.Duration(rc.LockoutMaxMs) * time.Millisecond,
		HostGrace:     time.Duration(rc.HostGraceMs) * time.Millisecond,
		GuestGrace:    time.Duration(rc.GuestGraceMs) * time.Millisecond,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        lingopair startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("MT", cfg.Providers.MT.Name, cfg.Providers.MT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	if cfg.Recording.Enabled {
		fmt.Printf("║  Recording   : %-22s ║\n", cfg.Recording.Dir)
	} else {
		fmt.Printf("║  Recording   : %-22s ║\n", "(disabled)")
	}
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive     : %-22s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive     : %-22s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr : %-22s ║\n", cfg.Server.ListenAddr)
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
		value = value[:21] + "…"
	}
	fmt.Printf("║  %-10s  : %-22s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optStringMap extracts a string-to-string map from a provider Options map,
// e.g. the piper per-language voice server addresses.
func optStringMap(opts map[string]any, key string) map[string]string {
	if opts == nil {
		return nil
	}
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
