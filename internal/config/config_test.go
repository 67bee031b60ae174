package config_test

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/elsker-net/linkwatch/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.TimeoutMS != 1000 {
		t.Errorf("TimeoutMS = %d, want 1000", cfg.TimeoutMS)
	}
	if cfg.IntervalMS != 10 {
		t.Errorf("IntervalMS = %d, want 10", cfg.IntervalMS)
	}
	if cfg.Retry != 3 {
		t.Errorf("Retry = %d, want 3", cfg.Retry)
	}
	if cfg.UpdateSecs != 300 {
		t.Errorf("UpdateSecs = %d, want 300", cfg.UpdateSecs)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("Load(\"\", nil) error: %v", err)
	}
	if cfg.IntervalMS != 10 {
		t.Errorf("IntervalMS = %d, want default 10", cfg.IntervalMS)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
timeout_ms: 2000
interval_ms: 20
retry: 5
update_secs: 60
mac_check: true
log:
  level: "debug"
  format: "text"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.TimeoutMS != 2000 {
		t.Errorf("TimeoutMS = %d, want 2000", cfg.TimeoutMS)
	}
	if cfg.IntervalMS != 20 {
		t.Errorf("IntervalMS = %d, want 20", cfg.IntervalMS)
	}
	if cfg.Retry != 5 {
		t.Errorf("Retry = %d, want 5", cfg.Retry)
	}
	if cfg.UpdateSecs != 60 {
		t.Errorf("UpdateSecs = %d, want 60", cfg.UpdateSecs)
	}
	if !cfg.MACCheck {
		t.Error("MACCheck = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
retry: 7
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Retry != 7 {
		t.Errorf("Retry = %d, want 7", cfg.Retry)
	}
	if cfg.TimeoutMS != 1000 {
		t.Errorf("TimeoutMS = %d, want default 1000", cfg.TimeoutMS)
	}
	if cfg.UpdateSecs != 300 {
		t.Errorf("UpdateSecs = %d, want default 300", cfg.UpdateSecs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := `
retry: 3
`
	path := writeTemp(t, yamlContent)

	t.Setenv("LINKWATCH_RETRY", "9")
	t.Setenv("LINKWATCH_LOG_LEVEL", "warn")

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Retry != 9 {
		t.Errorf("Retry = %d, want 9 (from env)", cfg.Retry)
	}
}

func TestLoadFlagsOverrideFileAndEnv(t *testing.T) {
	yamlContent := `
retry: 3
`
	path := writeTemp(t, yamlContent)
	t.Setenv("LINKWATCH_RETRY", "9")

	fs := flag.NewFlagSet("linkwatchd", flag.ContinueOnError)
	retry := fs.Int("retry", 3, "retry budget")
	if err := fs.Parse([]string{"-retry=15"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_ = retry

	cfg, err := config.Load(path, fs)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Retry != 15 {
		t.Errorf("Retry = %d, want 15 (explicit flag wins)", cfg.Retry)
	}
}

func TestLoadFlagsNotSetDoNotOverride(t *testing.T) {
	yamlContent := `
retry: 3
`
	path := writeTemp(t, yamlContent)

	fs := flag.NewFlagSet("linkwatchd", flag.ContinueOnError)
	fs.Int("retry", 3, "retry budget")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := config.Load(path, fs)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Retry != 3 {
		t.Errorf("Retry = %d, want 3 (flag untouched, file value kept)", cfg.Retry)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "timeout below floor",
			modify:  func(cfg *config.Config) { cfg.TimeoutMS = 100 },
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name:    "interval below floor",
			modify:  func(cfg *config.Config) { cfg.IntervalMS = 1 },
			wantErr: config.ErrInvalidInterval,
		},
		{
			name:    "retry below 1",
			modify:  func(cfg *config.Config) { cfg.Retry = 0 },
			wantErr: config.ErrInvalidRetry,
		},
		{
			name:    "zero update interval",
			modify:  func(cfg *config.Config) { cfg.UpdateSecs = 0 },
			wantErr: config.ErrInvalidUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml", nil)
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "linkwatch.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
