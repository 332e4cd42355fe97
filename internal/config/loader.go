package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"whisper", "openai"},
	"mt":  {"nllb", "openai", "anthropic", "ollama", "mistral", "groq", "llamacpp"},
	"tts": {"piper"},
	"vad": {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("mt", cfg.Providers.MT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// The recognition and detection capabilities are mandatory; translation
	// and synthesis degrade to transcript-only sessions.
	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr is required"))
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if cfg.Providers.MT.Name == "" {
		slog.Warn("providers.mt is not configured; sessions will deliver untranslated transcripts")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; sessions will not synthesize audio")
	}

	// Pipeline
	if cfg.Pipeline.SilenceWindowMs < 100 || cfg.Pipeline.SilenceWindowMs > 5000 {
		errs = append(errs, fmt.Errorf("pipeline.silence_window_ms %d is out of range [100, 5000]", cfg.Pipeline.SilenceWindowMs))
	}
	if cfg.Pipeline.PartialMinMs < 200 {
		errs = append(errs, fmt.Errorf("pipeline.partial_min_ms %d is below the 200 ms floor", cfg.Pipeline.PartialMinMs))
	}
	if cfg.Pipeline.WorkerConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.worker_concurrency %d is negative", cfg.Pipeline.WorkerConcurrency))
	}
	if cfg.Pipeline.VADThreshold < 0 || cfg.Pipeline.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad_threshold %.2f is out of range [0, 1]", cfg.Pipeline.VADThreshold))
	}

	// Rooms
	if cfg.Rooms.CodeLength < 4 || cfg.Rooms.CodeLength > 12 {
		errs = append(errs, fmt.Errorf("rooms.code_length %d is out of range [4, 12]", cfg.Rooms.CodeLength))
	}
	if cfg.Rooms.LockoutMinMs > cfg.Rooms.LockoutMaxMs {
		errs = append(errs, fmt.Errorf("rooms.lockout_min_ms %d exceeds rooms.lockout_max_ms %d", cfg.Rooms.LockoutMinMs, cfg.Rooms.LockoutMaxMs))
	}

	// Recording
	if cfg.Recording.Enabled && cfg.Recording.Dir == "" {
		errs = append(errs, errors.New("recording.dir is required when recording.enabled is true"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
