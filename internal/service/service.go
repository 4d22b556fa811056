package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/config"
	"github.com/screenslate/screenslate/internal/media"
	"github.com/screenslate/screenslate/internal/session"
)

// Service represents the interface-side state the front end renders
type Service interface {
	// Settings operations
	Settings() config.Settings
	UpdateSettings(ctx context.Context, partial config.PartialSettings) (config.Settings, error)

	// Source operations
	RefreshSources(ctx context.Context) ([]boundary.CaptureSource, error)
	Sources() []boundary.CaptureSource
	SelectSource(id string) error

	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	GetRecordingStatus() session.Snapshot

	// Log operations
	Logs() []boundary.LogEntry
	ClearLogs()
	Report(level boundary.LogLevel, message string)

	GetLastError() string
	Close()
}

var (
	ErrUnknownSource = errors.New("unknown capture source")
	ErrBusy          = errors.New("a recording is in progress")
)

// NoticeFunc shows a transient message to the user.
type NoticeFunc func(level boundary.LogLevel, message string)

type Options struct {
	Devices    media.Devices
	NewEncoder media.EncoderFactory

	// OnNotice and OnLog are called from the boundary dispatcher or the
	// calling goroutine. Both are optional.
	OnNotice NoticeFunc
	OnLog    func(boundary.LogEntry)

	SessionOptions []session.Option
}

// ScreenSlateService is the main service implementation
type ScreenSlateService struct {
	api      *boundary.API
	session  *session.Manager
	onNotice NoticeFunc
	onLog    func(boundary.LogEntry)

	settingsMutex sync.RWMutex
	settings      config.Settings

	sourcesMutex sync.RWMutex
	sources      []boundary.CaptureSource

	logsMutex sync.RWMutex
	logs      []boundary.LogEntry

	subscription *boundary.Subscription
	closeOnce    sync.Once

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New subscribes to host logs and loads the initial settings.
func New(ctx context.Context, api *boundary.API, opts Options) (*ScreenSlateService, error) {
	s := &ScreenSlateService{
		api:      api,
		onNotice: opts.OnNotice,
		onLog:    opts.OnLog,
		settings: config.DefaultSettings(),
	}

	s.session = session.New(session.Deps{
		Host:       api,
		Devices:    opts.Devices,
		NewEncoder: opts.NewEncoder,
		Settings:   s.Settings,
		Notifier:   session.NotifierFunc(s.notify),
	}, opts.SessionOptions...)

	// Subscribe before the first command so no startup log is missed
	s.subscription = api.OnLogMessage(s.appendLog)

	settings, err := api.GetSettings(ctx)
	if err != nil {
		s.subscription.Unsubscribe()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.settingsMutex.Lock()
	s.settings = settings
	s.settingsMutex.Unlock()

	return s, nil
}

func (s *ScreenSlateService) appendLog(entry boundary.LogEntry) {
	s.logsMutex.Lock()
	s.logs = append(s.logs, entry)
	s.logsMutex.Unlock()

	if s.onLog != nil {
		s.onLog(entry)
	}
}

func (s *ScreenSlateService) notify(level boundary.LogLevel, message string) {
	if level == boundary.LevelError {
		s.setLastError(message)
	}
	if s.onNotice != nil {
		s.onNotice(level, message)
	}
}

// Settings returns the cached settings
func (s *ScreenSlateService) Settings() config.Settings {
	s.settingsMutex.RLock()
	defer s.settingsMutex.RUnlock()
	return s.settings
}

// UpdateSettings checks the merged value locally, then asks the host to apply it
func (s *ScreenSlateService) UpdateSettings(ctx context.Context, partial config.PartialSettings) (config.Settings, error) {
	current := s.Settings()
	if err := current.Merge(partial).Validate(); err != nil {
		s.notify(boundary.LevelWarn, err.Error())
		return current, err
	}

	updated, err := s.api.SetSettings(ctx, partial)
	if err != nil {
		s.notify(boundary.LevelError, fmt.Sprintf("Failed to update settings: %v", err))
		return current, err
	}

	s.settingsMutex.Lock()
	s.settings = updated
	s.settingsMutex.Unlock()
	return updated, nil
}

// RefreshSources replaces the cached source list with a fresh enumeration
func (s *ScreenSlateService) RefreshSources(ctx context.Context) ([]boundary.CaptureSource, error) {
	sources, err := s.api.GetSources(ctx)
	if err != nil {
		s.notify(boundary.LevelError, fmt.Sprintf("Failed to get sources: %v", err))
		return nil, err
	}

	s.sourcesMutex.Lock()
	s.sources = sources
	s.sourcesMutex.Unlock()

	return s.Sources(), nil
}

func (s *ScreenSlateService) Sources() []boundary.CaptureSource {
	s.sourcesMutex.RLock()
	defer s.sourcesMutex.RUnlock()
	out := make([]boundary.CaptureSource, len(s.sources))
	copy(out, s.sources)
	return out
}

// SelectSource arms the session with a source from the last enumeration.
// An empty id clears the selection.
func (s *ScreenSlateService) SelectSource(id string) error {
	if id != "" && !s.hasSource(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	if !s.session.Select(id) {
		return ErrBusy
	}
	slog.Debug("Service.SelectSource", "id", id)
	return nil
}

func (s *ScreenSlateService) hasSource(id string) bool {
	s.sourcesMutex.RLock()
	defer s.sourcesMutex.RUnlock()
	for _, src := range s.sources {
		if src.ID == id {
			return true
		}
	}
	return false
}

func (s *ScreenSlateService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()
	return s.session.Start(ctx)
}

// StopRecording finalizes the recording and returns the saved path
func (s *ScreenSlateService) StopRecording(ctx context.Context) (string, error) {
	slog.Debug("Service.StopRecording called")
	path, err := s.session.Stop(ctx)
	if err == nil && path != "" {
		s.clearLastError()
	}
	return path, err
}

func (s *ScreenSlateService) GetRecordingStatus() session.Snapshot {
	return s.session.Snapshot()
}

// Logs returns the log panel entries in arrival order
func (s *ScreenSlateService) Logs() []boundary.LogEntry {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()
	out := make([]boundary.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *ScreenSlateService) ClearLogs() {
	s.logsMutex.Lock()
	s.logs = nil
	s.logsMutex.Unlock()
}

// Report sends an interface-side log line to the host
func (s *ScreenSlateService) Report(level boundary.LogLevel, message string) {
	if err := s.api.SendLog(level, message); err != nil {
		slog.Debug("Failed to send log to host", "error", err)
	}
}

// GetLastError returns the last error notice
func (s *ScreenSlateService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *ScreenSlateService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *ScreenSlateService) clearLastError() {
	s.setLastError("")
}

// Close stops listening for logs and drops a running recording. Safe to call
// more than once.
func (s *ScreenSlateService) Close() {
	s.closeOnce.Do(func() {
		s.subscription.Unsubscribe()
		s.session.Abandon()
	})
}
