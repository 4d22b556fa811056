package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screenslate-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("Expected no error for missing optional config, got: %v", err)
	}

	if cfg.Capture.Backend != "auto" {
		t.Errorf("Expected backend 'auto', got '%s'", cfg.Capture.Backend)
	}
	if cfg.Capture.Display != ":0" {
		t.Errorf("Expected display ':0', got '%s'", cfg.Capture.Display)
	}
	if cfg.Capture.FFmpeg != "ffmpeg" {
		t.Errorf("Expected ffmpeg 'ffmpeg', got '%s'", cfg.Capture.FFmpeg)
	}
	if cfg.Dev {
		t.Error("Expected dev mode to be off by default")
	}
	if cfg.Log.File != "" {
		t.Errorf("Expected no log file by default, got '%s'", cfg.Log.File)
	}
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err == nil {
		t.Fatal("Expected error for missing required config file")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoad_FileValues(t *testing.T) {
	t.Setenv("NODE_ENV", "")

	configFile := createTempConfig(t, `
dev: true
log:
  file: ~/logs/screenslate.log
  max_size_mb: 5
capture:
  backend: x11
  display: ":1"
  thumbnails: false
`)

	cfg, err := Load(configFile, true)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !cfg.Dev {
		t.Error("Expected dev mode from file")
	}
	if cfg.Capture.Backend != "x11" || cfg.Capture.Display != ":1" {
		t.Errorf("Unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Capture.Thumbnails {
		t.Error("Expected thumbnails disabled")
	}
	if cfg.Log.MaxSizeMB != 5 {
		t.Errorf("Expected max_size_mb 5, got %d", cfg.Log.MaxSizeMB)
	}
	// Untouched keys keep their defaults
	if cfg.Log.MaxBackups != 3 {
		t.Errorf("Expected default max_backups 3, got %d", cfg.Log.MaxBackups)
	}

	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, "logs", "screenslate.log")
	if cfg.Log.File != expected {
		t.Errorf("Expected expanded log file '%s', got '%s'", expected, cfg.Log.File)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCREENSLATE_CAPTURE_DISPLAY", ":5")
	t.Setenv("NODE_ENV", "development")

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Capture.Display != ":5" {
		t.Errorf("Expected display from env, got '%s'", cfg.Capture.Display)
	}
	if !cfg.Dev {
		t.Error("Expected NODE_ENV=development to enable dev mode")
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	configFile := createTempConfig(t, `
capture:
  backend: wayland
`)

	_, err := Load(configFile, true)
	if err == nil {
		t.Fatal("Expected validation error for unsupported backend")
	}
	if !strings.Contains(err.Error(), "unsupported backend") {
		t.Errorf("Expected 'unsupported backend' error, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"uppercase backend", func(c *Config) { c.Capture.Backend = "X11" }, ""},
		{"empty ffmpeg", func(c *Config) { c.Capture.FFmpeg = "" }, "capture.ffmpeg"},
		{"negative size", func(c *Config) { c.Log.MaxSizeMB = -1 }, "log.max_size_mb"},
		{"negative backups", func(c *Config) { c.Log.MaxBackups = -2 }, "log.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing '%s', got: %v", tt.wantErr, err)
			}
		})
	}
}
