package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/screenslate/screenslate/internal/capture"
)

// stopTimeout bounds how long ffmpeg may take to finalize after 'q'
const stopTimeout = 5 * time.Second

// InputTrack is a track backed by ffmpeg input arguments. ffmpeg owns the
// device, so stopping the track only marks it released.
type InputTrack struct {
	kind    TrackKind
	label   string
	args    []string
	stopped atomic.Bool
}

func NewInputTrack(kind TrackKind, label string, args ...string) *InputTrack {
	return &InputTrack{kind: kind, label: label, args: args}
}

func (t *InputTrack) Kind() TrackKind { return t.kind }
func (t *InputTrack) Label() string   { return t.label }
func (t *InputTrack) Stop()           { t.stopped.Store(true) }
func (t *InputTrack) Stopped() bool   { return t.stopped.Load() }

func (t *InputTrack) InputArgs() []string {
	return append([]string(nil), t.args...)
}

// FFmpegDevices maps capture source ids onto x11grab inputs and the
// microphone onto the PulseAudio default source.
type FFmpegDevices struct {
	display string
	run     capture.CommandRunner
}

func NewFFmpegDevices(display string) *FFmpegDevices {
	if display == "" {
		display = ":0"
	}
	return &FFmpegDevices{
		display: display,
		run: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Env = env
			return cmd.Output()
		},
	}
}

func (d *FFmpegDevices) VideoStream(ctx context.Context, sourceID string, fps int) (*Stream, error) {
	ref, err := capture.ParseSourceID(sourceID)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate: %d", fps)
	}

	rate := strconv.Itoa(fps)
	var args []string
	switch ref.Kind {
	case capture.KindScreen:
		g := ref.Geometry
		args = []string{
			"-f", "x11grab",
			"-framerate", rate,
			"-video_size", fmt.Sprintf("%dx%d", g.Width, g.Height),
			"-i", fmt.Sprintf("%s+%d,%d", d.display, g.X, g.Y),
		}
	case capture.KindWindow:
		args = []string{
			"-f", "x11grab",
			"-framerate", rate,
			"-window_id", ref.WindowID,
			"-i", d.display,
		}
	}

	slog.Debug("Acquired video input", "source", sourceID, "fps", fps)
	return NewStream(NewInputTrack(TrackVideo, sourceID, args...)), nil
}

// AudioStream resolves the default PulseAudio/PipeWire source. A missing
// audio server is reported as an acquisition error.
func (d *FFmpegDevices) AudioStream(ctx context.Context) (*Stream, error) {
	output, err := d.run(ctx, os.Environ(), "pactl", "get-default-source")
	if err != nil {
		return nil, fmt.Errorf("microphone unavailable: %w", err)
	}

	source := strings.TrimSpace(string(output))
	if source == "" {
		return nil, errors.New("microphone unavailable: no default source")
	}

	slog.Debug("Acquired audio input", "source", source)
	return NewStream(NewInputTrack(TrackAudio, source, "-f", "pulse", "-i", source)), nil
}

// FFmpegEncoder runs one ffmpeg process writing WebM to stdout and hands the
// bytes read so far to onChunk on every timeslice.
type FFmpegEncoder struct {
	binary  string
	stream  *Stream
	onChunk ChunkFunc

	mu      sync.Mutex
	pending bytes.Buffer

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderrBuf strings.Builder

	onExit  func(error)
	waitErr error

	readDone chan struct{}
	exited   chan struct{}
	tickStop chan struct{}
	tickDone chan struct{}
	started  bool
	stopped  bool
}

// OnExit registers fn to hear about ffmpeg exiting before Stop. Call it
// before Start.
func (e *FFmpegEncoder) OnExit(fn func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExit = fn
}

// NewFFmpegEncoderFactory returns a factory running the given ffmpeg binary.
func NewFFmpegEncoderFactory(binary string) EncoderFactory {
	if binary == "" {
		binary = "ffmpeg"
	}
	return func(stream *Stream, onChunk ChunkFunc) (Encoder, error) {
		if len(stream.VideoTracks()) == 0 {
			return nil, errors.New("stream has no video track")
		}
		return &FFmpegEncoder{binary: binary, stream: stream, onChunk: onChunk}, nil
	}
}

// BuildArgs returns the ffmpeg command line for the stream's tracks.
func BuildArgs(stream *Stream) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}

	var maps []string
	video, audio := 0, 0
	for i, t := range stream.Tracks() {
		input, ok := t.(*InputTrack)
		if !ok {
			return nil, fmt.Errorf("track %q is not an ffmpeg input", t.Label())
		}
		args = append(args, input.InputArgs()...)

		switch t.Kind() {
		case TrackVideo:
			if video == 0 {
				maps = append(maps, "-map", fmt.Sprintf("%d:v", i))
			}
			video++
		case TrackAudio:
			if audio == 0 {
				maps = append(maps, "-map", fmt.Sprintf("%d:a", i))
			}
			audio++
		}
	}

	if video == 0 {
		return nil, errors.New("stream has no video track")
	}

	args = append(args, maps...)
	args = append(args,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "2M",
	)
	if audio > 0 {
		args = append(args, "-c:a", "libopus")
	}
	args = append(args, "-f", "webm", "pipe:1")

	return args, nil
}

func (e *FFmpegEncoder) Start(timeslice time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("encoder already started")
	}
	if timeslice <= 0 {
		return fmt.Errorf("invalid timeslice: %s", timeslice)
	}

	args, err := BuildArgs(e.stream)
	if err != nil {
		return err
	}

	slog.Info("Starting FFmpeg encoder", "command", e.binary+" "+strings.Join(args, " "))

	cmd := exec.Command(e.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = &lockedWriter{mu: &e.mu, b: &e.stderrBuf}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.started = true
	e.readDone = make(chan struct{})
	e.exited = make(chan struct{})
	e.tickStop = make(chan struct{})
	e.tickDone = make(chan struct{})

	go e.readOutput(stdout)
	go e.wait()
	go e.emitLoop(timeslice)

	return nil
}

func (e *FFmpegEncoder) readOutput(pipe io.Reader) {
	defer close(e.readDone)

	buf := make([]byte, 32*1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending.Write(buf[:n])
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("FFmpeg stdout closed", "error", err)
			}
			return
		}
	}
}

// wait reaps ffmpeg once its output is drained and reports an exit nobody asked for.
func (e *FFmpegEncoder) wait() {
	<-e.readDone
	err := e.cmd.Wait()

	e.mu.Lock()
	e.waitErr = err
	unexpected := !e.stopped
	onExit := e.onExit
	stderr := strings.TrimSpace(e.stderrBuf.String())
	e.mu.Unlock()
	close(e.exited)

	if !unexpected {
		return
	}

	slog.Warn("FFmpeg exited during recording", "error", err, "stderr", stderr)
	if onExit == nil {
		return
	}
	switch {
	case err != nil && stderr != "":
		onExit(fmt.Errorf("FFmpeg exited: %w: %s", err, lastLine(stderr)))
	case err != nil:
		onExit(fmt.Errorf("FFmpeg exited: %w", err))
	default:
		onExit(errors.New("FFmpeg exited before the recording was stopped"))
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (e *FFmpegEncoder) emitLoop(timeslice time.Duration) {
	defer close(e.tickDone)

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-e.tickStop:
			return
		}
	}
}

func (e *FFmpegEncoder) flush() {
	e.mu.Lock()
	chunk := make([]byte, e.pending.Len())
	copy(chunk, e.pending.Bytes())
	e.pending.Reset()
	e.mu.Unlock()

	e.onChunk(chunk)
}

// Stop asks ffmpeg to finish the file, waits for it, and emits the tail.
func (e *FFmpegEncoder) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cmd := e.cmd
	e.mu.Unlock()

	close(e.tickStop)
	<-e.tickDone

	// 'q' makes ffmpeg write the trailer and exit cleanly
	if _, err := io.WriteString(e.stdin, "q"); err != nil {
		slog.Debug("Failed to send quit to FFmpeg, interrupting", "error", err)
		cmd.Process.Signal(os.Interrupt)
	}
	e.stdin.Close()

	select {
	case <-e.exited:
	case <-time.After(stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		cmd.Process.Kill()
		<-e.exited
	}

	e.flush()

	e.mu.Lock()
	waitErr := e.waitErr
	e.mu.Unlock()

	if waitErr != nil && !isInterruptExit(waitErr) {
		e.mu.Lock()
		stderr := e.stderrBuf.String()
		e.mu.Unlock()
		slog.Debug("FFmpeg stderr", "output", stderr)
		return fmt.Errorf("FFmpeg process failed: %w", waitErr)
	}
	return nil
}

// isInterruptExit treats signal terminations and exit code 255 as a normal stop
func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}

type lockedWriter struct {
	mu *sync.Mutex
	b  *strings.Builder
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}
