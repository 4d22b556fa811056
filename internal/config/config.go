package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the host process options. Recording settings are not part of it:
// they live in a Store and are never read from or written to disk.
type Config struct {
	Dev     bool          `mapstructure:"dev" yaml:"dev"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`               // empty disables the log file
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"` // rotate after this size
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type CaptureConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "x11", "auto"
	Display    string `mapstructure:"display" yaml:"display"`
	FFmpeg     string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Thumbnails bool   `mapstructure:"thumbnails" yaml:"thumbnails"`
}

var defaultConfig = Config{
	Dev: false,
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	},
	Capture: CaptureConfig{
		Backend:    "auto",
		Display:    ":0",
		FFmpeg:     "ffmpeg",
		Thumbnails: true,
	},
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/screenslate.yaml")
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads configFile when it exists. A missing file is only an error when
// required is set, which is the case for a path given explicitly on the command line.
func Load(configFile string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCREENSLATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if required || !isMissingFile(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// NODE_ENV=development is accepted as well as SCREENSLATE_DEV
	if os.Getenv("NODE_ENV") == "development" {
		cfg.Dev = true
	}

	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dev", defaultConfig.Dev)
	v.SetDefault("log.file", defaultConfig.Log.File)
	v.SetDefault("log.max_size_mb", defaultConfig.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaultConfig.Log.MaxBackups)
	v.SetDefault("capture.backend", defaultConfig.Capture.Backend)
	v.SetDefault("capture.display", defaultConfig.Capture.Display)
	v.SetDefault("capture.ffmpeg", defaultConfig.Capture.FFmpeg)
	v.SetDefault("capture.thumbnails", defaultConfig.Capture.Thumbnails)
}

// Validate checks the option values that the host relies on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Capture.Backend) {
	case "auto", "x11":
	default:
		return fmt.Errorf("capture.backend: unsupported backend '%s' (valid: auto, x11)", c.Capture.Backend)
	}

	if c.Capture.FFmpeg == "" {
		return fmt.Errorf("capture.ffmpeg: path is required")
	}

	if c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log.max_size_mb: must not be negative, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups: must not be negative, got %d", c.Log.MaxBackups)
	}

	return nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
