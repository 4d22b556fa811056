package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/screenslate/screenslate/internal/config"
)

// Level maps the verbose flag to a slog level: 0=info, 1 and above=debug.
// Development mode always logs at debug.
func Level(verbose int, dev bool) slog.Level {
	if dev || verbose >= 1 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs the default logger. Text output goes to w and, when cfg.File
// is set, to a size-rotated log file as well. Close the result on exit.
func Setup(w io.Writer, verbose int, dev bool, cfg config.LogConfig) io.Closer {
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w = io.MultiWriter(w, rotator)
		closer = rotator
	}

	// Configure text handler for clean terminal output
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: Level(verbose, dev),
	})
	slog.SetDefault(slog.New(handler))

	return closer
}
