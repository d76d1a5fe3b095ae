package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"github.com/dantte-lp/goqueen/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if len(cfg.Listen) != 1 || cfg.Listen[0].Addr != ":7890" {
		t.Errorf("Listen = %+v, want one tcp listener on :7890", cfg.Listen)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Switch.DefaultCapacity != 64 {
		t.Errorf("Switch.DefaultCapacity = %d, want 64", cfg.Switch.DefaultCapacity)
	}

	if cfg.Switch.ConnectTimeout != 60*time.Second {
		t.Errorf("Switch.ConnectTimeout = %v, want 60s", cfg.Switch.ConnectTimeout)
	}

	if cfg.AEAD.Method != "AES_256_GCM" {
		t.Errorf("AEAD.Method = %q, want AES_256_GCM", cfg.AEAD.Method)
	}

	// Defaults must pass validation (AEAD is not Required, so no key needed).
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  - network: tcp
    addr: ":7000"
  - network: unix
    addr: "/run/goqueend.sock"
switch:
  default_capacity: 128
  connect_timeout: "30s"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
root:
  - token: "s3cr3t"
    root: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Listen) != 2 {
		t.Fatalf("Listen has %d entries, want 2", len(cfg.Listen))
	}
	if cfg.Listen[0].Network != "tcp" || cfg.Listen[0].Addr != ":7000" {
		t.Errorf("Listen[0] = %+v, want tcp :7000", cfg.Listen[0])
	}
	if cfg.Listen[1].Network != "unix" || cfg.Listen[1].Addr != "/run/goqueend.sock" {
		t.Errorf("Listen[1] = %+v, want unix /run/goqueend.sock", cfg.Listen[1])
	}

	if cfg.Switch.DefaultCapacity != 128 {
		t.Errorf("Switch.DefaultCapacity = %d, want 128", cfg.Switch.DefaultCapacity)
	}
	if cfg.Switch.ConnectTimeout != 30*time.Second {
		t.Errorf("Switch.ConnectTimeout = %v, want 30s", cfg.Switch.ConnectTimeout)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want :9200", cfg.Metrics.Addr)
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want /custom-metrics", cfg.Metrics.Path)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want debug/text", cfg.Log)
	}

	if len(cfg.Root) != 1 || cfg.Root[0].Token != "s3cr3t" || !cfg.Root[0].Root {
		t.Errorf("Root = %+v, want one root token s3cr3t", cfg.Root)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	yamlContent := `
listen:
  - network: tcp
    addr: ":7000"
metrics:
  addr: ":9200"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOQUEEN_METRICS_ADDR", ":9999")
	t.Setenv("GOQUEEN_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9999" {
		t.Errorf("Metrics.Addr = %q, want :9999 (env override)", cfg.Metrics.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn (env override)", cfg.Log.Level)
	}
}

func TestValidateRejectsEmptyListen(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Listen = nil

	if err := config.Validate(cfg); !errors.Is(err, config.ErrNoListeners) {
		t.Errorf("Validate() error = %v, want ErrNoListeners", err)
	}
}

func TestValidateRejectsBadNetwork(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Listen = []config.ListenConfig{{Network: "udp", Addr: ":1"}}

	if err := config.Validate(cfg); !errors.Is(err, config.ErrInvalidNetwork) {
		t.Errorf("Validate() error = %v, want ErrInvalidNetwork", err)
	}
}

func TestValidateRejectsMissingAEADKeyWhenRequired(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.AEAD.Required = true

	if err := config.Validate(cfg); !errors.Is(err, config.ErrInvalidAEADKey) {
		t.Errorf("Validate() error = %v, want ErrInvalidAEADKey", err)
	}
}

func TestValidateAcceptsValidAEADKey(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.AEAD.Required = true
	cfg.AEAD.Method = "AES_128_GCM"
	cfg.AEAD.KeyHex = "00112233445566778899aabbccddeeff"[:32]

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRejectsDuplicateRootToken(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Root = []config.RootConfig{
		{Token: "a", Root: true},
		{Token: "a", Root: false},
	}

	if err := config.Validate(cfg); !errors.Is(err, config.ErrDuplicateRootToken) {
		t.Errorf("Validate() error = %v, want ErrDuplicateRootToken", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for in, want := range cases {
		if got := config.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
