package config_test

import (
	"strings"
	"testing"

	"github.com/lingopair/lingopair/internal/config"
)

const minimalYAML = `
providers:
  asr:
    name: whisper
    model_path: /models/ggml-small.bin
  vad:
    name: energy
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.SilenceWindowMs != 500 {
		t.Errorf("SilenceWindowMs = %d, want 500", cfg.Pipeline.SilenceWindowMs)
	}
	if cfg.Pipeline.ASRTimeoutMs != 15000 || cfg.Pipeline.MTTimeoutMs != 5000 || cfg.Pipeline.TTSTimeoutMs != 10000 {
		t.Errorf("stage timeouts = %d/%d/%d, want 15000/5000/10000",
			cfg.Pipeline.ASRTimeoutMs, cfg.Pipeline.MTTimeoutMs, cfg.Pipeline.TTSTimeoutMs)
	}
	if cfg.Rooms.CodeLength != 6 {
		t.Errorf("CodeLength = %d, want 6", cfg.Rooms.CodeLength)
	}
	if cfg.Rooms.LockoutMinMs != 1000 || cfg.Rooms.LockoutMaxMs != 4000 {
		t.Errorf("lockout clamp = [%d, %d], want [1000, 4000]", cfg.Rooms.LockoutMinMs, cfg.Rooms.LockoutMaxMs)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
serverr:
  listen_addr: ":9090"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_RequiresASRAndVAD(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	if !strings.Contains(err.Error(), "providers.asr") {
		t.Errorf("error should mention providers.asr, got: %v", err)
	}
	if !strings.Contains(err.Error(), "providers.vad") {
		t.Errorf("error should mention providers.vad, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("expected log_level error, got: %v", err)
	}
}

func TestValidate_LockoutClampOrdering(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
rooms:
  lockout_min_ms: 5000
  lockout_max_ms: 2000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "lockout_min_ms") {
		t.Fatalf("expected lockout clamp error, got: %v", err)
	}
}

func TestValidate_CodeLengthRange(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
rooms:
  code_length: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "code_length") {
		t.Fatalf("expected code_length error, got: %v", err)
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
server:
  tls:
    cert_file: /etc/certs/server.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Fatalf("expected TLS error, got: %v", err)
	}
}
