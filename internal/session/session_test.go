package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/config"
	"github.com/screenslate/screenslate/internal/media"
)

type fakeDevices struct {
	videoErr error
	audioErr error

	mu         sync.Mutex
	videoCalls int
	lastFPS    int
	streams    []*media.Stream
}

func (d *fakeDevices) VideoStream(ctx context.Context, sourceID string, fps int) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.videoCalls++
	d.lastFPS = fps
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	s := media.NewStream(media.NewInputTrack(media.TrackVideo, sourceID))
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) AudioStream(ctx context.Context) (*media.Stream, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	return media.NewStream(media.NewInputTrack(media.TrackAudio, "mic")), nil
}

type fakeEncoder struct {
	onChunk  media.ChunkFunc
	onExit   func(error)
	startErr error
	tail     []byte

	mu      sync.Mutex
	started bool
	stopped bool
}

func (e *fakeEncoder) Start(timeslice time.Duration) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	if e.tail != nil {
		e.onChunk(e.tail)
	}
	return nil
}

func (e *fakeEncoder) OnExit(fn func(error)) { e.onExit = fn }

func (e *fakeEncoder) emit(chunk string) { e.onChunk([]byte(chunk)) }

type fakeHost struct {
	err error

	mu        sync.Mutex
	calls     int
	payload   []byte
	timestamp string
}

func (h *fakeHost) SaveRecording(ctx context.Context, payload []byte, timestamp string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.payload = payload
	h.timestamp = timestamp
	if h.err != nil {
		return "", h.err
	}
	return "/tmp/out/rec-" + timestamp + ".webm", nil
}

type notice struct {
	level   boundary.LogLevel
	message string
}

type harness struct {
	manager  *Manager
	devices  *fakeDevices
	host     *fakeHost
	encoder  *fakeEncoder
	settings config.Settings

	mu      sync.Mutex
	notices []notice
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		devices:  &fakeDevices{},
		host:     &fakeHost{},
		encoder:  &fakeEncoder{},
		settings: config.Settings{FPS: 30, OutputDir: "/tmp/out"},
	}

	clock := func() time.Time { return time.Date(2024, 1, 2, 10, 30, 45, 0, time.Local) }
	opts = append([]Option{WithClock(clock)}, opts...)

	h.manager = New(Deps{
		Host:    h.host,
		Devices: h.devices,
		NewEncoder: func(stream *media.Stream, onChunk media.ChunkFunc) (media.Encoder, error) {
			h.encoder.onChunk = onChunk
			return h.encoder, nil
		},
		Settings: func() config.Settings { return h.settings },
		Notifier: NotifierFunc(func(level boundary.LogLevel, message string) {
			h.mu.Lock()
			h.notices = append(h.notices, notice{level, message})
			h.mu.Unlock()
		}),
	}, opts...)
	return h
}

func (h *harness) lastNotice() notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.notices) == 0 {
		return notice{}
	}
	return h.notices[len(h.notices)-1]
}

func (h *harness) hasNotice(level boundary.LogLevel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.notices {
		if n.level == level {
			return true
		}
	}
	return false
}

func TestStart_WithoutSource(t *testing.T) {
	h := newHarness(t)

	err := h.manager.Start(context.Background())
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("Expected ErrNoSource, got: %v", err)
	}

	snap := h.manager.Snapshot()
	if snap.State != StateIdle || snap.Chunks != 0 {
		t.Errorf("Start without source changed state: %+v", snap)
	}
	if h.devices.videoCalls != 0 {
		t.Error("No stream must be acquired without a source")
	}
	if n := h.lastNotice(); n.level != boundary.LevelWarn {
		t.Errorf("Expected a warning notice, got %+v", n)
	}
}

func TestStop_WhenNotRecording(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("screen:0:1920x1080+0+0")
	before := h.manager.Snapshot()

	path, err := h.manager.Stop(context.Background())
	if err != nil || path != "" {
		t.Fatalf("Expected no-op, got path=%q err=%v", path, err)
	}
	if after := h.manager.Snapshot(); after != before {
		t.Errorf("Stop changed snapshot: %+v -> %+v", before, after)
	}
	if h.host.calls != 0 {
		t.Error("Stop when idle must not save")
	}
}

func TestFullCycle(t *testing.T) {
	h := newHarness(t)
	h.encoder.tail = []byte("ef")

	if !h.manager.Select("screen:0:1920x1080+0+0") {
		t.Fatal("Expected select to succeed")
	}
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s := h.manager.Snapshot().State; s != StateRecording {
		t.Fatalf("Expected RECORDING, got %s", s)
	}
	if h.devices.lastFPS != 30 {
		t.Errorf("Expected capture at configured fps, got %d", h.devices.lastFPS)
	}

	h.encoder.emit("ab")
	h.encoder.emit("")
	h.encoder.emit("cd")

	if snap := h.manager.Snapshot(); snap.Chunks != 2 || snap.Bytes != 4 {
		t.Errorf("Expected empty chunk discarded, got %+v", snap)
	}

	path, err := h.manager.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if path != "/tmp/out/rec-2024-01-02-10-30.webm" {
		t.Errorf("Unexpected path: %s", path)
	}
	if string(h.host.payload) != "abcdef" {
		t.Errorf("Expected payload 'abcdef', got %q", h.host.payload)
	}
	if h.host.timestamp != "2024-01-02-10-30" {
		t.Errorf("Unexpected timestamp: %s", h.host.timestamp)
	}

	snap := h.manager.Snapshot()
	if !snap.State.IsIdle() || snap.Chunks != 0 {
		t.Errorf("Expected idle with empty buffer, got %+v", snap)
	}
	for _, tr := range h.devices.streams[0].Tracks() {
		if !tr.Stopped() {
			t.Errorf("Track %s not released", tr.Label())
		}
	}
	if n := h.lastNotice(); n.level != boundary.LevelInfo || n.message != "Recording saved to "+path {
		t.Errorf("Unexpected notice: %+v", n)
	}

	// late emissions after stop are dropped
	h.encoder.emit("zz")
	if h.manager.Snapshot().Chunks != 0 {
		t.Error("Chunk accepted after stop")
	}
}

func TestStop_SaveFailure(t *testing.T) {
	h := newHarness(t)
	h.host.err = errors.New("permission denied")

	h.manager.Select("window:0x04400003")
	h.manager.Start(context.Background())
	h.encoder.emit("data")

	_, err := h.manager.Stop(context.Background())
	if err == nil {
		t.Fatal("Expected save failure to be returned")
	}

	snap := h.manager.Snapshot()
	if !snap.State.IsIdle() || snap.Chunks != 0 {
		t.Errorf("Session stuck after failed save: %+v", snap)
	}
	if !h.devices.streams[0].Tracks()[0].Stopped() {
		t.Error("Tracks must be released even when saving fails")
	}
	if n := h.lastNotice(); n.level != boundary.LevelError {
		t.Errorf("Expected error notice, got %+v", n)
	}

	// the session can record again
	if err := h.manager.Start(context.Background()); err != nil {
		t.Errorf("Expected restart after failure, got: %v", err)
	}
}

func TestStart_MicrophoneFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.settings.MicEnabled = true
	h.devices.audioErr = errors.New("no audio server")

	h.manager.Select("screen:0:1920x1080+0+0")
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Microphone failure must not propagate, got: %v", err)
	}

	if s := h.manager.Snapshot().State; s != StateRecording {
		t.Errorf("Expected RECORDING, got %s", s)
	}
	stream := h.devices.streams[0]
	if len(stream.Tracks()) != 1 || len(stream.VideoTracks()) != 1 {
		t.Errorf("Expected video-only stream, got %d tracks", len(stream.Tracks()))
	}
	if !h.hasNotice(boundary.LevelWarn) {
		t.Error("Expected a warning notice for the microphone")
	}
}

func TestStart_MergesMicrophone(t *testing.T) {
	h := newHarness(t)
	h.settings.MicEnabled = true

	h.manager.Select("screen:0:1920x1080+0+0")
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream := h.devices.streams[0]
	if len(stream.VideoTracks()) != 1 || len(stream.AudioTracks()) != 1 {
		t.Errorf("Expected one video and one audio track, got %d/%d", len(stream.VideoTracks()), len(stream.AudioTracks()))
	}

	h.manager.Stop(context.Background())
	for _, tr := range stream.Tracks() {
		if !tr.Stopped() {
			t.Errorf("Track %s not released", tr.Label())
		}
	}
}

func TestStart_WhileRecordingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("screen:0:1920x1080+0+0")
	h.manager.Start(context.Background())
	h.encoder.emit("keep")

	if err := h.manager.Start(context.Background()); err != nil {
		t.Errorf("Expected nil from repeated start, got: %v", err)
	}
	if h.devices.videoCalls != 1 {
		t.Errorf("Expected a single stream acquisition, got %d", h.devices.videoCalls)
	}
	if h.manager.Snapshot().Chunks != 1 {
		t.Error("Repeated start must not clear the buffer")
	}
	if h.manager.Select("window:0x1") {
		t.Error("Select must be ignored while recording")
	}
}

func TestStart_VideoFailure(t *testing.T) {
	h := newHarness(t)
	h.devices.videoErr = errors.New("cannot open display")

	h.manager.Select("screen:0:1920x1080+0+0")
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("Expected video acquisition error")
	}
	if s := h.manager.Snapshot().State; s != StateArmed {
		t.Errorf("Expected ARMED after failure, got %s", s)
	}
}

func TestStart_EncoderFailure(t *testing.T) {
	h := newHarness(t)
	h.encoder.startErr = errors.New("ffmpeg not found")

	h.manager.Select("screen:0:1920x1080+0+0")
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("Expected encoder error")
	}
	if s := h.manager.Snapshot().State; s != StateArmed {
		t.Errorf("Expected ARMED after failure, got %s", s)
	}
	if !h.devices.streams[0].Tracks()[0].Stopped() {
		t.Error("Tracks must be released when the encoder cannot start")
	}
}

func TestElapsedCounter(t *testing.T) {
	h := newHarness(t, WithTick(5*time.Millisecond))
	h.manager.Select("screen:0:1920x1080+0+0")
	h.manager.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for h.manager.Snapshot().Elapsed < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Elapsed counter did not advance")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.manager.Stop(context.Background())
	if h.manager.Snapshot().Elapsed != 0 {
		t.Error("Expected elapsed reset after stop")
	}
}

func TestAbandon(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("screen:0:1920x1080+0+0")
	h.manager.Start(context.Background())
	h.encoder.emit("lost")

	h.manager.Abandon()

	if h.host.calls != 0 {
		t.Error("Abandon must not save")
	}
	snap := h.manager.Snapshot()
	if !snap.State.IsIdle() || snap.Chunks != 0 {
		t.Errorf("Unexpected snapshot after abandon: %+v", snap)
	}
	if !h.devices.streams[0].Tracks()[0].Stopped() {
		t.Error("Abandon must release tracks")
	}

	// no-op when idle
	h.manager.Abandon()
}

func TestStop_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("screen:0:1920x1080+0+0")
	h.manager.Start(context.Background())
	h.encoder.emit("x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.manager.Stop(ctx); err != nil {
		t.Errorf("Finalization must run to completion, got: %v", err)
	}
	if h.host.calls != 1 {
		t.Errorf("Expected one save, got %d", h.host.calls)
	}
}

func TestEncoderExit_WarnsAndKeepsRecording(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("window:0x04400003")
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.encoder.emit("ab")

	h.encoder.onExit(errors.New("window closed"))
	h.encoder.onExit(errors.New("window closed"))

	n := h.lastNotice()
	if n.level != boundary.LevelWarn || !strings.HasPrefix(n.message, "Recording interrupted: window closed") {
		t.Errorf("Expected an interruption warning, got %+v", n)
	}
	h.mu.Lock()
	warnings := 0
	for _, n := range h.notices {
		if n.level == boundary.LevelWarn {
			warnings++
		}
	}
	h.mu.Unlock()
	if warnings != 1 {
		t.Errorf("Expected exactly one warning, got %d", warnings)
	}

	snap := h.manager.Snapshot()
	if snap.State != StateRecording || !snap.Interrupted {
		t.Fatalf("Expected an interrupted recording, got %+v", snap)
	}

	path, err := h.manager.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if string(h.host.payload) != "ab" {
		t.Errorf("Expected the captured chunks saved, got %q", h.host.payload)
	}
	if n := h.lastNotice(); n.message != "Recording saved to "+path {
		t.Errorf("Unexpected notice: %+v", n)
	}
	if h.manager.Snapshot().Interrupted {
		t.Error("Interrupted flag must clear after the recording ends")
	}
}

func TestEncoderExit_StaleRunIgnored(t *testing.T) {
	h := newHarness(t)
	h.manager.Select("window:0x04400003")
	h.manager.Start(context.Background())
	stale := h.encoder.onExit
	h.manager.Stop(context.Background())

	h.manager.Start(context.Background())
	stale(errors.New("late exit from the previous run"))

	if snap := h.manager.Snapshot(); snap.Interrupted {
		t.Errorf("A previous encoder must not interrupt the current run: %+v", snap)
	}
	if h.hasNotice(boundary.LevelWarn) {
		t.Error("Unexpected warning for a previous run")
	}
}
