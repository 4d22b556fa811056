package capture

import (
	"context"
	"os/exec"
	"strings"

	"github.com/screenslate/screenslate/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypeX11  BackendType = "x11"
	BackendTypeAuto BackendType = "auto"
)

// Enumerator lists the screens and windows that can be recorded.
type Enumerator interface {
	ListSources(ctx context.Context) ([]RawSource, error)
}

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd.Output()
}

// NewEnumerator creates an enumerator for the configured backend
func NewEnumerator(cfg config.CaptureConfig) Enumerator {
	switch determineBackend(cfg) {
	case BackendTypeX11:
		return NewX11(cfg.Display, cfg.Thumbnails)
	default:
		// X11 is the only backend available
		return NewX11(cfg.Display, cfg.Thumbnails)
	}
}

func determineBackend(cfg config.CaptureConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "x11", "auto":
		return BackendTypeX11
	}
	return BackendTypeX11
}
