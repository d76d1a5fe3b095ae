// Package config manages the goqueend daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides, layered on top
// of DefaultConfig().
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration structures
// -------------------------------------------------------------------------

// Config holds the complete goqueend configuration.
type Config struct {
	Listen  []ListenConfig `koanf:"listen"`
	AEAD    AEADConfig     `koanf:"aead"`
	Switch  SwitchConfig   `koanf:"switch"`
	Metrics MetricsConfig  `koanf:"metrics"`
	Log     LogConfig      `koanf:"log"`
	Root    []RootConfig   `koanf:"root"`
}

// ListenConfig describes one front-end socket the daemon binds.
type ListenConfig struct {
	// Network is "tcp" or "unix".
	Network string `koanf:"network"`
	// Addr is a host:port for "tcp", or a filesystem path for "unix".
	Addr string `koanf:"addr"`
}

// AEADConfig configures the optional handshake encryption.
type AEADConfig struct {
	// Required forces every accepted connection to negotiate _secu=true;
	// a peer that declines the handshake is dropped.
	Required bool `koanf:"required"`
	// Method is one of AES_128_GCM, AES_256_GCM, CHACHA20_POLY1305.
	Method string `koanf:"method"`
	// KeyHex is the pre-shared key, hex-encoded (16 or 32 bytes decoded,
	// depending on Method).
	KeyHex string `koanf:"key_hex"`
}

// SwitchConfig configures the switch core.
type SwitchConfig struct {
	// DefaultCapacity bounds each session's duplex stream in each direction.
	DefaultCapacity int `koanf:"default_capacity"`
	// ConnectTimeout bounds Connect when a caller supplies no deadline.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RootConfig declares one credential, root-capable when Root is set, consumed by
// hook.NewStaticTokenHooks (the reference auth policy wired by cmd/goqueend).
// The switch itself has no authentication policy of its own; this is
// configuration for the hook the daemon injects.
type RootConfig struct {
	// Token is the credential value a client must present in its _auth
	// message's "token" field.
	Token string `koanf:"token"`
	// Root grants the `_root` capability to sessions presenting Token.
	Root bool `koanf:"root"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults: a single
// TCP listener, no AEAD requirement, and the switch's stated stream-capacity
// and connect-timeout defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: []ListenConfig{
			{Network: "tcp", Addr: ":7890"},
		},
		AEAD: AEADConfig{
			Required: false,
			Method:   "AES_256_GCM",
		},
		Switch: SwitchConfig{
			DefaultCapacity: 64,
			ConnectTimeout:  60 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for goqueend configuration.
// Variables are named GOQUEEN_<section>_<key>, e.g., GOQUEEN_METRICS_ADDR.
const envPrefix = "GOQUEEN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOQUEEN_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults, except listen and root, which come only
// from the file or the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOQUEEN_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
// Listen and Root are left to the file/env layers; koanf's slice-merge
// semantics would otherwise make DefaultConfig's single listener
// impossible to fully override from a file that declares its own list.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"aead.required":           defaults.AEAD.Required,
		"aead.method":             defaults.AEAD.Method,
		"switch.default_capacity": defaults.Switch.DefaultCapacity,
		"switch.connect_timeout":  defaults.Switch.ConnectTimeout.String(),
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoListeners indicates the configuration declares no front-end sockets.
	ErrNoListeners = errors.New("listen: at least one socket must be configured")

	// ErrInvalidNetwork indicates a listener's network is neither tcp nor unix.
	ErrInvalidNetwork = errors.New("listen.network must be tcp or unix")

	// ErrEmptyListenAddr indicates a listener's addr is empty.
	ErrEmptyListenAddr = errors.New("listen.addr must not be empty")

	// ErrInvalidAEADMethod indicates aead.method is not one of the three
	// negotiable handshake ciphers.
	ErrInvalidAEADMethod = errors.New("aead.method must be AES_128_GCM, AES_256_GCM, or CHACHA20_POLY1305")

	// ErrInvalidAEADKey indicates aead.key_hex is required (AEAD.Required
	// is set) but missing, or does not decode to the method's key length.
	ErrInvalidAEADKey = errors.New("aead.key_hex must decode to the key length required by aead.method")

	// ErrInvalidDefaultCapacity indicates switch.default_capacity is <= 0.
	ErrInvalidDefaultCapacity = errors.New("switch.default_capacity must be > 0")

	// ErrInvalidConnectTimeout indicates switch.connect_timeout is <= 0.
	ErrInvalidConnectTimeout = errors.New("switch.connect_timeout must be > 0")

	// ErrEmptyRootToken indicates a root credential entry has an empty token.
	ErrEmptyRootToken = errors.New("root.token must not be empty")

	// ErrDuplicateRootToken indicates two root credential entries share a token.
	ErrDuplicateRootToken = errors.New("duplicate root token")
)

// ValidAEADMethods lists the recognized handshake cipher names.
var ValidAEADMethods = map[string]bool{
	"AES_128_GCM":       true,
	"AES_256_GCM":       true,
	"CHACHA20_POLY1305": true,
}

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if len(cfg.Listen) == 0 {
		return ErrNoListeners
	}
	for i, l := range cfg.Listen {
		if l.Network != "tcp" && l.Network != "unix" {
			return fmt.Errorf("listen[%d]: %w", i, ErrInvalidNetwork)
		}
		if l.Addr == "" {
			return fmt.Errorf("listen[%d]: %w", i, ErrEmptyListenAddr)
		}
	}

	if !ValidAEADMethods[cfg.AEAD.Method] {
		return ErrInvalidAEADMethod
	}
	if cfg.AEAD.Required {
		if _, err := cfg.AEAD.Key(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAEADKey, err)
		}
	}

	if cfg.Switch.DefaultCapacity <= 0 {
		return ErrInvalidDefaultCapacity
	}
	if cfg.Switch.ConnectTimeout <= 0 {
		return ErrInvalidConnectTimeout
	}

	return validateRoot(cfg.Root)
}

func validateRoot(entries []RootConfig) error {
	seen := make(map[string]struct{}, len(entries))
	for i, r := range entries {
		if r.Token == "" {
			return fmt.Errorf("root[%d]: %w", i, ErrEmptyRootToken)
		}
		if _, dup := seen[r.Token]; dup {
			return fmt.Errorf("root[%d]: %w", i, ErrDuplicateRootToken)
		}
		seen[r.Token] = struct{}{}
	}
	return nil
}

// -------------------------------------------------------------------------
// AEAD key decoding
// -------------------------------------------------------------------------

// keyLenForMethod returns the expected decoded key length for method.
func keyLenForMethod(method string) int {
	if method == "AES_128_GCM" {
		return 16
	}
	return 32
}

// Key decodes AEAD.KeyHex and validates its length against AEAD.Method.
func (a AEADConfig) Key() ([]byte, error) {
	key, err := hex.DecodeString(a.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key_hex: %w", err)
	}
	want := keyLenForMethod(a.Method)
	if len(key) != want {
		return nil, fmt.Errorf("key is %d bytes, method %s needs %d", len(key), a.Method, want)
	}
	return key, nil
}

// -------------------------------------------------------------------------
// Log level parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
