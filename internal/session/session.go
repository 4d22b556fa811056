// Package session owns the recording lifecycle on the interface side:
// Idle → Armed → Recording → Finalizing → Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/config"
	"github.com/screenslate/screenslate/internal/media"
)

// State represents the current state of the session
type State string

const (
	StateIdle       State = "IDLE"
	StateArmed      State = "ARMED"
	StateRecording  State = "RECORDING"
	StateFinalizing State = "FINALIZING"
)

// IsIdle reports whether no recording is running. Armed counts as idle.
func (s State) IsIdle() bool {
	return s == StateIdle || s == StateArmed
}

const (
	// Timeslice is the encoder emission interval. It does not depend on fps.
	Timeslice = time.Second

	// TimestampFormat names saved files with minute granularity.
	TimestampFormat = "2006-01-02-15-04"
)

var ErrNoSource = errors.New("no capture source selected")

// Host is the part of the boundary the session needs.
type Host interface {
	SaveRecording(ctx context.Context, payload []byte, timestamp string) (string, error)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(level boundary.LogLevel, message string)
}

type NotifierFunc func(level boundary.LogLevel, message string)

func (f NotifierFunc) Notify(level boundary.LogLevel, message string) { f(level, message) }

type Deps struct {
	Host       Host
	Devices    media.Devices
	NewEncoder media.EncoderFactory
	Settings   func() config.Settings
	Notifier   Notifier
}

type Option func(*Manager)

// WithClock replaces time.Now for file timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTick changes the elapsed counter period.
func WithTick(d time.Duration) Option {
	return func(m *Manager) { m.tick = d }
}

// Snapshot is a read-only view for display.
type Snapshot struct {
	State    State
	SourceID string
	Chunks   int
	Bytes    int
	Elapsed  int // seconds

	// Interrupted is set when the encoder ended on its own. Stop still saves
	// what was captured before that.
	Interrupted bool
}

// Manager runs at most one recording at a time. Lifecycle calls are
// serialized; encoder callbacks only touch the chunk buffer.
type Manager struct {
	deps Deps
	now  func() time.Time
	tick time.Duration

	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	sourceID    string
	chunks      [][]byte
	accepting   bool
	elapsed     int
	run         uint64
	interrupted bool

	stream   *media.Stream
	encoder  media.Encoder
	tickStop chan struct{}
	tickDone chan struct{}
}

func New(deps Deps, opts ...Option) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(boundary.LogLevel, string) {})
	}
	m := &Manager{
		deps:  deps,
		now:   time.Now,
		tick:  time.Second,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Select arms the session with a source; an empty id disarms it. Ignored
// while a recording is in progress.
func (m *Manager) Select(sourceID string) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRecording || m.state == StateFinalizing {
		return false
	}

	m.sourceID = sourceID
	if sourceID == "" {
		m.state = StateIdle
	} else {
		m.state = StateArmed
	}
	return true
}

// Start begins recording the selected source. Starting while already
// recording does nothing. A failing microphone degrades to video only.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	state, sourceID := m.state, m.sourceID
	m.mu.Unlock()

	if state == StateRecording || state == StateFinalizing {
		return nil
	}
	if sourceID == "" {
		m.deps.Notifier.Notify(boundary.LevelWarn, "Select a source before recording")
		return ErrNoSource
	}

	settings := m.deps.Settings()

	stream, err := m.deps.Devices.VideoStream(ctx, sourceID, settings.FPS)
	if err != nil {
		m.deps.Notifier.Notify(boundary.LevelError, fmt.Sprintf("Failed to start capture: %v", err))
		return fmt.Errorf("failed to acquire video stream: %w", err)
	}

	if settings.MicEnabled {
		audio, err := m.deps.Devices.AudioStream(ctx)
		if err != nil {
			slog.Debug("Microphone acquisition failed", "error", err)
			m.deps.Notifier.Notify(boundary.LevelWarn, "Microphone unavailable, recording video only")
		} else {
			for _, t := range audio.AudioTracks() {
				stream.AddTrack(t)
			}
		}
	}

	encoder, err := m.deps.NewEncoder(stream, m.appendChunk)
	if err != nil {
		stream.StopAll()
		m.deps.Notifier.Notify(boundary.LevelError, fmt.Sprintf("Failed to start recording: %v", err))
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	m.mu.Lock()
	m.run++
	run := m.run
	m.mu.Unlock()
	if en, ok := encoder.(media.ExitNotifier); ok {
		en.OnExit(func(err error) { m.encoderExited(run, err) })
	}

	// Recording must be visible before the first chunk can arrive
	m.mu.Lock()
	m.chunks = nil
	m.elapsed = 0
	m.interrupted = false
	m.accepting = true
	m.state = StateRecording
	m.stream = stream
	m.encoder = encoder
	m.mu.Unlock()

	if err := encoder.Start(Timeslice); err != nil {
		m.mu.Lock()
		m.accepting = false
		m.state = StateArmed
		m.stream = nil
		m.encoder = nil
		m.mu.Unlock()

		stream.StopAll()
		m.deps.Notifier.Notify(boundary.LevelError, fmt.Sprintf("Failed to start recording: %v", err))
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	m.startCounter()

	slog.Info("Recording started", "source", sourceID, "fps", settings.FPS, "tracks", len(stream.Tracks()))
	m.deps.Notifier.Notify(boundary.LevelInfo, "Recording started")
	return nil
}

func (m *Manager) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.accepting {
		return
	}
	m.chunks = append(m.chunks, chunk)
}

// encoderExited warns about an encoder that died mid-recording. The session
// stays in Recording so the user can still stop and save.
func (m *Manager) encoderExited(run uint64, err error) {
	m.mu.Lock()
	current := m.run == run && m.state == StateRecording && !m.interrupted
	if current {
		m.interrupted = true
	}
	m.mu.Unlock()

	if !current {
		return
	}
	slog.Warn("Encoder exited during recording", "error", err)
	m.deps.Notifier.Notify(boundary.LevelWarn, fmt.Sprintf("Recording interrupted: %v. Stop to save what was captured", err))
}

func (m *Manager) startCounter() {
	m.tickStop = make(chan struct{})
	m.tickDone = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.mu.Lock()
				if m.state == StateRecording && !m.interrupted {
					m.elapsed++
				}
				m.mu.Unlock()
			case <-stop:
				return
			}
		}
	}(m.tickStop, m.tickDone)
}

func (m *Manager) stopCounter() {
	if m.tickStop == nil {
		return
	}
	close(m.tickStop)
	<-m.tickDone
	m.tickStop = nil
	m.tickDone = nil
}

// Stop ends the recording and hands the payload to the host. It returns the
// saved path. Stopping when not recording does nothing. Tracks are released
// and the session returns to Idle whatever the save outcome.
func (m *Manager) Stop(ctx context.Context) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return "", nil
	}
	m.state = StateFinalizing
	stream, encoder := m.stream, m.encoder
	m.mu.Unlock()

	timestamp := m.now().Format(TimestampFormat)
	defer stream.StopAll()

	if err := encoder.Stop(); err != nil {
		slog.Warn("Encoder did not stop cleanly", "error", err)
	}
	m.stopCounter()

	m.mu.Lock()
	m.accepting = false
	payload := concat(m.chunks)
	m.mu.Unlock()

	// finalization runs to completion even if the caller gives up
	path, err := m.deps.Host.SaveRecording(context.WithoutCancel(ctx), payload, timestamp)

	m.reset()

	if err != nil {
		m.deps.Notifier.Notify(boundary.LevelError, fmt.Sprintf("Failed to save recording: %v", err))
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	slog.Info("Recording finalized", "path", path, "bytes", len(payload))
	m.deps.Notifier.Notify(boundary.LevelInfo, fmt.Sprintf("Recording saved to %s", path))
	return path, nil
}

// Abandon drops a running recording without saving, as when the window closes.
func (m *Manager) Abandon() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}
	m.state = StateFinalizing
	stream, encoder := m.stream, m.encoder
	m.mu.Unlock()

	if err := encoder.Stop(); err != nil {
		slog.Debug("Encoder did not stop cleanly", "error", err)
	}
	m.stopCounter()
	stream.StopAll()

	m.reset()
	slog.Info("Recording abandoned")
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chunks = nil
	m.accepting = false
	m.elapsed = 0
	m.interrupted = false
	m.stream = nil
	m.encoder = nil
	if m.sourceID != "" {
		m.state = StateArmed
	} else {
		m.state = StateIdle
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := 0
	for _, c := range m.chunks {
		size += len(c)
	}
	return Snapshot{
		State:       m.state,
		SourceID:    m.sourceID,
		Chunks:      len(m.chunks),
		Bytes:       size,
		Elapsed:     m.elapsed,
		Interrupted: m.interrupted,
	}
}

func concat(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
