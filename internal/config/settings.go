package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	MinFPS     = 1
	MaxFPS     = 60
	DefaultFPS = 30
)

// ErrInvalidSettings is returned when an update would leave the settings out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the recording options shared between the host and the interface.
type Settings struct {
	FPS        int    `json:"fps" yaml:"fps"`
	OutputDir  string `json:"outputDir" yaml:"outputDir"`
	MicEnabled bool   `json:"micEnabled" yaml:"micEnabled"`
}

// PartialSettings is an update where nil fields keep their current value.
type PartialSettings struct {
	FPS        *int    `json:"fps,omitempty"`
	OutputDir  *string `json:"outputDir,omitempty"`
	MicEnabled *bool   `json:"micEnabled,omitempty"`
}

// DefaultSettings returns 30 fps, the home Downloads folder and no microphone.
func DefaultSettings() Settings {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Settings{
		FPS:        DefaultFPS,
		OutputDir:  filepath.Join(home, "Downloads"),
		MicEnabled: false,
	}
}

// Merge applies the fields present in p over s and returns the result. s is not modified.
func (s Settings) Merge(p PartialSettings) Settings {
	merged := s
	if p.FPS != nil {
		merged.FPS = *p.FPS
	}
	if p.OutputDir != nil {
		merged.OutputDir = *p.OutputDir
	}
	if p.MicEnabled != nil {
		merged.MicEnabled = *p.MicEnabled
	}
	return merged
}

func (s Settings) Validate() error {
	if s.FPS < MinFPS || s.FPS > MaxFPS {
		return fmt.Errorf("%w: fps must be between %d and %d, got %d", ErrInvalidSettings, MinFPS, MaxFPS, s.FPS)
	}
	if s.OutputDir == "" {
		return fmt.Errorf("%w: outputDir is required", ErrInvalidSettings)
	}
	return nil
}

// IsEmpty reports whether the update carries no field at all.
func (p PartialSettings) IsEmpty() bool {
	return p.FPS == nil && p.OutputDir == nil && p.MicEnabled == nil
}

// Store owns the process-wide Settings. Update is its only write path.
type Store struct {
	mu      sync.RWMutex
	current Settings
}

func NewStore(initial Settings) *Store {
	return &Store{current: initial}
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges p over the current settings. The merged value is validated before it
// replaces the current one, so a rejected update changes nothing.
func (s *Store) Update(p PartialSettings) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.current.Merge(p)
	if err := merged.Validate(); err != nil {
		return s.current, err
	}

	s.current = merged
	return merged, nil
}
