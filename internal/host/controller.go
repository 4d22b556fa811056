// Package host is the privileged side of the application. It owns the
// settings, enumerates capture sources and writes recordings to disk.
package host

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/capture"
	"github.com/screenslate/screenslate/internal/config"
)

var (
	// ErrInvalidTimestamp is returned for timestamps that would escape the output directory.
	ErrInvalidTimestamp = errors.New("invalid recording timestamp")

	// ErrUnknownUpload is returned when parts arrive out of order or a save
	// names an upload the host is not holding.
	ErrUnknownUpload = errors.New("unknown recording upload")
)

// Publisher delivers events to the interface. *boundary.Server implements it.
type Publisher interface {
	Emit(channel string, payload any) error
}

// Controller answers the boundary commands.
type Controller struct {
	settings  *config.Store
	fs        afero.Fs
	sources   capture.Enumerator
	publisher Publisher

	mu    sync.Mutex
	relay *boundary.Subscription

	// one upload at a time; a new part zero replaces an abandoned one
	uploadMu sync.Mutex
	upload   *pendingUpload
}

type pendingUpload struct {
	id   string
	next int
	buf  bytes.Buffer
}

func New(settings *config.Store, fs afero.Fs, sources capture.Enumerator, publisher Publisher) *Controller {
	return &Controller{
		settings:  settings,
		fs:        fs,
		sources:   sources,
		publisher: publisher,
	}
}

// Register installs the command handlers and the interface log relay on srv.
func (c *Controller) Register(srv *boundary.Server) {
	srv.Handle(boundary.ChannelGetSettings, boundary.Bind(func(ctx context.Context, _ struct{}) (config.Settings, error) {
		return c.GetSettings(ctx)
	}))
	srv.Handle(boundary.ChannelSetSettings, boundary.Bind(c.SetSettings))
	srv.Handle(boundary.ChannelGetSources, boundary.Bind(func(ctx context.Context, _ struct{}) ([]boundary.CaptureSource, error) {
		return c.GetSources(ctx)
	}))
	srv.Handle(boundary.ChannelSaveRecordingPart, boundary.Bind(c.SaveRecordingPart))
	srv.Handle(boundary.ChannelSaveRecording, boundary.Bind(func(ctx context.Context, req boundary.SaveRecordingRequest) (string, error) {
		if req.Upload == "" {
			return c.SaveRecording(ctx, req.Payload, req.Timestamp)
		}
		payload, err := c.takeUpload(req.Upload)
		if err != nil {
			c.Log(boundary.LevelError, fmt.Sprintf("Failed to save recording: %v", err))
			return "", err
		}
		return c.SaveRecording(ctx, payload, req.Timestamp)
	}))

	sub := srv.OnEvent(boundary.ChannelLogMessage, c.relayLog)

	c.mu.Lock()
	c.relay = sub
	c.mu.Unlock()
}

// Announce logs the startup banner once the boundary is serving.
func (c *Controller) Announce(version string) {
	c.Log(boundary.LevelInfo, "ScreenSlate application started")
	c.Log(boundary.LevelInfo, "Version: "+version)
	c.Log(boundary.LevelInfo, "Go version: "+runtime.Version())
	c.Log(boundary.LevelInfo, fmt.Sprintf("Platform: %s/%s", runtime.GOOS, runtime.GOARCH))
}

// Log writes the entry to the structured log and publishes it to the interface.
func (c *Controller) Log(level boundary.LogLevel, message string) {
	c.publish(boundary.NewLogEntry(level, message))
}

func (c *Controller) publish(entry boundary.LogEntry) {
	slog.Log(context.Background(), slogLevel(entry.Level), entry.Message, "source", "host")

	if c.publisher == nil {
		return
	}
	if err := c.publisher.Emit(boundary.ChannelLogMessage, entry); err != nil && !errors.Is(err, boundary.ErrClosed) {
		slog.Debug("Failed to publish log entry", "error", err)
	}
}

// relayLog records an interface-originated entry and sends it back so the
// log panel shows one ordered sequence.
func (c *Controller) relayLog(raw json.RawMessage) {
	var entry boundary.LogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("Ignoring malformed interface log", "error", err)
		return
	}
	if !entry.Level.Valid() {
		entry.Level = boundary.LevelInfo
	}

	slog.Log(context.Background(), slogLevel(entry.Level), entry.Message, "source", "interface")

	if c.publisher == nil {
		return
	}
	if err := c.publisher.Emit(boundary.ChannelLogMessage, entry); err != nil && !errors.Is(err, boundary.ErrClosed) {
		slog.Debug("Failed to relay log entry", "error", err)
	}
}

func (c *Controller) GetSettings(ctx context.Context) (config.Settings, error) {
	return c.settings.Get(), nil
}

// SetSettings merges partial over the current settings. Out of range values
// reject the whole update.
func (c *Controller) SetSettings(ctx context.Context, partial config.PartialSettings) (config.Settings, error) {
	updated, err := c.settings.Update(partial)
	if err != nil {
		slog.Warn("Rejected settings update", "error", err)
		return config.Settings{}, err
	}

	raw, err := json.Marshal(partial)
	if err != nil {
		raw = []byte("{}")
	}
	c.Log(boundary.LevelInfo, "Settings updated: "+string(raw))
	return updated, nil
}

// GetSources enumerates screens and windows. Every call returns a new slice.
func (c *Controller) GetSources(ctx context.Context) ([]boundary.CaptureSource, error) {
	raw, err := c.sources.ListSources(ctx)
	if err != nil {
		c.Log(boundary.LevelError, fmt.Sprintf("Failed to get sources: %v", err))
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}

	sources := make([]boundary.CaptureSource, 0, len(raw))
	for _, s := range raw {
		sources = append(sources, boundary.CaptureSource{
			ID:        s.ID,
			Name:      s.Name,
			Thumbnail: thumbnailURL(s.Thumbnail),
		})
	}

	c.Log(boundary.LevelInfo, fmt.Sprintf("Retrieved %d capture sources", len(sources)))
	return sources, nil
}

// SaveRecording writes payload to <outputDir>/rec-<timestamp>.webm and
// returns the path. An existing file is overwritten.
func (c *Controller) SaveRecording(ctx context.Context, payload []byte, timestamp string) (string, error) {
	path, err := c.save(payload, timestamp)
	if err != nil {
		c.Log(boundary.LevelError, fmt.Sprintf("Failed to save recording: %v", err))
		return "", err
	}

	c.Log(boundary.LevelInfo, "Recording saved: "+path)
	return path, nil
}

// SaveRecordingPart buffers one slice of a large recording and returns the
// number of bytes held so far.
func (c *Controller) SaveRecordingPart(ctx context.Context, part boundary.SaveRecordingPart) (int, error) {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	if part.Upload == "" {
		return 0, fmt.Errorf("%w: missing upload id", ErrUnknownUpload)
	}
	if part.Index == 0 {
		if c.upload != nil {
			slog.Warn("Discarding unfinished recording upload", "upload", c.upload.id, "bytes", c.upload.buf.Len())
		}
		c.upload = &pendingUpload{id: part.Upload}
	}

	u := c.upload
	if u == nil || u.id != part.Upload || u.next != part.Index {
		c.upload = nil
		return 0, fmt.Errorf("%w: part %d of %s", ErrUnknownUpload, part.Index, part.Upload)
	}

	u.buf.Write(part.Data)
	u.next++
	return u.buf.Len(), nil
}

func (c *Controller) takeUpload(id string) ([]byte, error) {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	u := c.upload
	if u == nil || u.id != id {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUpload, id)
	}
	c.upload = nil
	slog.Debug("Joined recording upload", "upload", id, "parts", u.next, "bytes", u.buf.Len())
	return u.buf.Bytes(), nil
}

func (c *Controller) save(payload []byte, timestamp string) (string, error) {
	if err := validateTimestamp(timestamp); err != nil {
		return "", err
	}

	dir := c.settings.Get().OutputDir
	info, err := c.fs.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("output directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output path is not a directory: %s", dir)
	}

	path := filepath.Join(dir, "rec-"+timestamp+".webm")
	if err := afero.WriteFile(c.fs, path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func validateTimestamp(ts string) error {
	switch {
	case ts == "":
		return fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	case strings.ContainsAny(ts, `/\`), strings.Contains(ts, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	return nil
}

func thumbnailURL(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// Close detaches the log relay. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	sub := c.relay
	c.relay = nil
	c.mu.Unlock()

	c.uploadMu.Lock()
	c.upload = nil
	c.uploadMu.Unlock()

	sub.Unsubscribe()
	slog.Debug("Host controller closed")
}

func slogLevel(l boundary.LogLevel) slog.Level {
	switch l {
	case boundary.LevelWarn:
		return slog.LevelWarn
	case boundary.LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
