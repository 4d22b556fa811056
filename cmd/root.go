package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/capture"
	"github.com/screenslate/screenslate/internal/config"
	"github.com/screenslate/screenslate/internal/console"
	"github.com/screenslate/screenslate/internal/host"
	"github.com/screenslate/screenslate/internal/logging"
	"github.com/screenslate/screenslate/internal/media"
	"github.com/screenslate/screenslate/internal/service"
	"github.com/screenslate/screenslate/internal/version"
)

const (
	// hostExitTimeout bounds how long the child host may take to exit after its stdin closes
	hostExitTimeout = 5 * time.Second

	// announceDelay gives the interface time to subscribe before the startup logs
	announceDelay = 500 * time.Millisecond

	// hostStderrTail is how much of the child host's stderr is kept for a failed exit
	hostStderrTail = 16 << 10
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
	inProcess    bool
	logCloser    io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "screenslate",
	Short: "Screen and window recorder",
	Long: `ScreenSlate records a screen or a single window, optionally with the
microphone, and saves the result as a WebM file.

Without a subcommand it starts the interactive console and a separate host
process that owns settings and writes recordings to disk.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// An explicit --config must exist, the default path is optional
		required := cfgFile != ""
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}

		var err error
		cfg, err = config.Load(path, required)
		if err != nil {
			logCloser = logging.Setup(os.Stderr, verboseLevel, false, config.LogConfig{})
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCloser = logging.Setup(os.Stderr, verboseLevel, cfg.Dev, cfg.Log)
		slog.Debug("Configuration loaded", "path", path, "dev", cfg.Dev)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The console owns the terminal from here on, so only the log file is written
		closeLogs()
		logCloser = logging.Setup(io.Discard, verboseLevel, cfg.Dev, cfg.Log)

		transport, shutdown, err := startHost(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(); err != nil {
				slog.Warn("Host did not shut down cleanly", "error", err)
			}
		}()

		return runConsole(ctx, transport)
	},
}

func Execute() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes one command line. The log file is closed whether or not the
// command succeeded; os.Exit would skip any deferred close in Execute.
func run(ctx context.Context, args []string) error {
	defer closeLogs()

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func closeLogs() {
	if logCloser == nil {
		return
	}
	if err := logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	logCloser = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/screenslate.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.Flags().BoolVar(&inProcess, "in-process", false, "run the host in this process instead of a child process")

	// Add subcommands
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// newController builds the host side from the loaded configuration
func newController(srv *boundary.Server) *host.Controller {
	ctrl := host.New(
		config.NewStore(config.DefaultSettings()),
		afero.NewOsFs(),
		capture.NewEnumerator(cfg.Capture),
		srv,
	)
	ctrl.Register(srv)
	return ctrl
}

func startHost(ctx context.Context) (boundary.Transport, func() error, error) {
	if inProcess {
		t, shutdown := startInProcessHost(ctx)
		return t, shutdown, nil
	}
	return startChildHost()
}

func startInProcessHost(ctx context.Context) (boundary.Transport, func() error) {
	hostEnd, uiEnd := boundary.Pipe()
	srv := boundary.NewServer(hostEnd)
	ctrl := newController(srv)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	announce := time.AfterFunc(announceDelay, func() { ctrl.Announce(version.Version) })

	return uiEnd, func() error {
		announce.Stop()
		ctrl.Close()
		srv.Close()
		return <-served
	}
}

// startChildHost re-executes this binary as 'screenslate host' and talks to it
// over its stdin and stdout.
func startChildHost() (boundary.Transport, func() error, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"host", "--verbose", strconv.Itoa(verboseLevel)}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	// The child's stderr would draw over the console; keep its tail for a failed exit
	stderr := &tailWriter{limit: hostStderrTail}
	child := exec.Command(exe, args...)
	child.Stderr = stderr
	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := child.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start host process: %w", err)
	}
	slog.Debug("Host process started", "pid", child.Process.Pid)

	transport := boundary.NewStreamTransport(stdout, stdin, stdin)

	shutdown := func() error {
		// closing stdin ends the host's serve loop
		transport.Close()

		done := make(chan error, 1)
		go func() { done <- child.Wait() }()

		var err error
		select {
		case err = <-done:
		case <-time.After(hostExitTimeout):
			slog.Warn("Host process did not exit within timeout, force killing")
			child.Process.Kill()
			err = <-done
		}
		if err != nil {
			os.Stderr.Write(stderr.Bytes())
		}
		return err
	}
	return transport, shutdown, nil
}

// tailWriter keeps the last limit bytes written to it. Only the exec copy
// goroutine writes, and Bytes is read after Wait returns.
type tailWriter struct {
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) Bytes() []byte { return w.buf }

func runConsole(ctx context.Context, transport boundary.Transport) error {
	client := boundary.NewClient(transport)
	defer client.Close()

	feed := console.NewFeed()
	svc, err := service.New(ctx, boundary.NewAPI(client), service.Options{
		Devices:    media.NewFFmpegDevices(cfg.Capture.Display),
		NewEncoder: media.NewFFmpegEncoderFactory(cfg.Capture.FFmpeg),
		OnNotice:   feed.Notice,
		OnLog:      feed.LogEntry,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	return console.Run(ctx, svc, feed)
}
