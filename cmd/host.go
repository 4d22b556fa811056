package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/version"
)

var hostCmd = &cobra.Command{
	Use:    "host",
	Short:  "Serve the host side of the boundary on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// SIGINT from the terminal reaches the whole process group; the parent
		// decides when the host stops by closing stdin.
		signal.Ignore(os.Interrupt)
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		srv := boundary.NewServer(boundary.NewStreamTransport(os.Stdin, os.Stdout, os.Stdin))
		ctrl := newController(srv)
		defer ctrl.Close()

		announce := time.AfterFunc(announceDelay, func() { ctrl.Announce(version.Version) })
		defer announce.Stop()

		slog.Debug("Host serving on stdio", "pid", os.Getpid())
		err := srv.Serve(ctx)
		srv.Close()
		slog.Debug("Host stopped")
		return err
	},
}
