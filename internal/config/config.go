// Package config manages linkwatchd's configuration using koanf/v2.
//
// Supports an optional YAML file, environment variables, and command
// line flags, in that precedence order (flags win, then env, then
// file, then built-in defaults), with flag.FlagSet merged on top at
// the call site — Load takes the already-parsed flags so
// cmd/linkwatchd stays the only place that owns process argv.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete linkwatchd configuration.
type Config struct {
	// TimeoutMS is the per-cycle drain wait, --timeout (min 500, default 1000).
	TimeoutMS int `koanf:"timeout_ms"`

	// IntervalMS is the initial/floor pacer interval, --interval (min 5, default 10).
	IntervalMS int `koanf:"interval_ms"`

	// Retry is the default per-host retry budget, --retry (min 1, default 3).
	Retry int `koanf:"retry"`

	// UpdateSecs is the status-line cadence, --update (default 300).
	UpdateSecs int `koanf:"update_secs"`

	// SLARepSecs, if > 0, emits one SLA report after this many seconds
	// and exits, --slarep.
	SLARepSecs int `koanf:"slarep_secs"`

	// HostsFile is the path to the host list, --file. Empty means hosts
	// were given positionally instead.
	HostsFile string `koanf:"hosts_file"`

	// LogPath, if set, redirects the report.Writer's output to this
	// file instead of stdout, --log.
	LogPath string `koanf:"log_path"`

	// NotifyCmd is the external command invoked on state changes, --notify.
	NotifyCmd string `koanf:"notify_cmd"`

	// MACCheck turns on the MAC-check/NIDS-warning policy, --mac_check.
	MACCheck bool `koanf:"mac_check"`

	// HungStateDir, if set, enables the optional external state
	// directory hook, --hung_state_dir.
	HungStateDir string `koanf:"hung_state_dir"`

	// MetricsAddr, if set, starts a Prometheus metrics HTTP listener at
	// this address, --metrics_addr. Empty disables metrics entirely.
	MetricsAddr string `koanf:"metrics_addr"`

	Log LogConfig `koanf:"log"`
}

// LogConfig holds the ambient structured-logging configuration, kept
// separate from the report.Writer's protocol-mandated output (see
// internal/report's package doc).
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DefaultConfig returns a Config populated with the daemon's built-in
// defaults.
func DefaultConfig() *Config {
	return &Config{
		TimeoutMS:  1000,
		IntervalMS: 10,
		Retry:      3,
		UpdateSecs: 300,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envPrefix is the environment variable prefix for linkwatchd configuration.
// Variables are named LINKWATCH_<key>, e.g. LINKWATCH_TIMEOUT_MS.
const envPrefix = "LINKWATCH_"

// Load reads configuration from an optional YAML file at path (skipped
// entirely when path is ""), overlays LINKWATCH_ environment variable
// overrides, overlays flags explicitly set on fs, and merges all of it
// on top of DefaultConfig(). fs is the command's already-parsed
// *flag.FlagSet; only flags the caller actually set (fs.Visit, not
// fs.VisitAll) take precedence over the file/env layers.
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if fs != nil {
		if err := loadFlags(k, fs); err != nil {
			return nil, fmt.Errorf("load flag overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms LINKWATCH_TIMEOUT_MS -> timeout_ms.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}

// flagKoanfKeys maps a flag.FlagSet name to its koanf key, for the
// flags cmd/linkwatchd defines. Flags not listed here (e.g. -config)
// are not part of Config and are ignored.
var flagKoanfKeys = map[string]string{
	"timeout":        "timeout_ms",
	"interval":       "interval_ms",
	"retry":          "retry",
	"update":         "update_secs",
	"slarep":         "slarep_secs",
	"file":           "hosts_file",
	"log":            "log_path",
	"notify":         "notify_cmd",
	"mac_check":      "mac_check",
	"hung_state_dir": "hung_state_dir",
	"metrics_addr":   "metrics_addr",
	"log_level":      "log.level",
	"log_format":     "log.format",
}

// loadFlags overlays every flag the caller explicitly set (fs.Visit
// skips flags left at their default) onto k.
func loadFlags(k *koanf.Koanf, fs *flag.FlagSet) error {
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		key, ok := flagKoanfKeys[f.Name]
		if !ok {
			return
		}
		if err := k.Set(key, f.Value.String()); err != nil && setErr == nil {
			setErr = fmt.Errorf("set flag %s: %w", f.Name, err)
		}
	})
	return setErr
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"timeout_ms":  defaults.TimeoutMS,
		"interval_ms": defaults.IntervalMS,
		"retry":       defaults.Retry,
		"update_secs": defaults.UpdateSecs,
		"log.level":   defaults.Log.Level,
		"log.format":  defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// Validation errors.
var (
	// ErrInvalidTimeout indicates --timeout is below the 500ms floor.
	ErrInvalidTimeout = errors.New("timeout_ms must be >= 500")

	// ErrInvalidInterval indicates --interval is below the 5ms floor.
	ErrInvalidInterval = errors.New("interval_ms must be >= 5")

	// ErrInvalidRetry indicates --retry is below 1.
	ErrInvalidRetry = errors.New("retry must be >= 1")

	// ErrInvalidUpdate indicates --update is not positive.
	ErrInvalidUpdate = errors.New("update_secs must be > 0")
)

// Validate checks the configuration for logical errors, returning the
// first one found.
func Validate(cfg *Config) error {
	if cfg.TimeoutMS < 500 {
		return ErrInvalidTimeout
	}
	if cfg.IntervalMS < 5 {
		return ErrInvalidInterval
	}
	if cfg.Retry < 1 {
		return ErrInvalidRetry
	}
	if cfg.UpdateSecs <= 0 {
		return ErrInvalidUpdate
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
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
