package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/idbharness/internal/driver"
	"github.com/roach88/idbharness/internal/session"
	"github.com/roach88/idbharness/internal/store"
)

// DefaultVersion is the schema version run opens when --version is not given.
const DefaultVersion = 66

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store       string
	Version     int64
	Hold        time.Duration
	OpenTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a session, hold it, then close it",
		Long: `Open a session on a store, hold it until interrupted, then close it.

The session stays open until SIGINT or SIGTERM arrives, or until --hold
elapses. Closing waits for the connection to drain. Session events are
logged to stderr; --verbose adds debug events.

Exit codes:
  0 - Session opened and closed
  1 - Open failed or timed out
  2 - Command error (bad flags, unusable data directory)

Examples:
  idbharness run
  idbharness run --version 67 --hold 10s
  idbharness run --store inventory --open-timeout 5s --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", session.DefaultStore, "store name")
	cmd.Flags().Int64Var(&opts.Version, "version", DefaultVersion, "schema version to open")
	cmd.Flags().DurationVar(&opts.Hold, "hold", 0, "close after this long instead of waiting for a signal")
	cmd.Flags().DurationVar(&opts.OpenTimeout, "open-timeout", 0, "give up if the open has not resolved in time (0 waits forever)")

	return cmd
}

func runSession(cmd *cobra.Command, opts *RunOptions) error {
	if opts.Version < 1 || opts.Version > store.MaxVersion {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid version %d: must be between 1 and %d", opts.Version, store.MaxVersion))
	}

	log := opts.newLogger(cmd.ErrOrStderr())

	factory, err := store.NewFactory(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare data directory", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Hold > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Hold)
		defer cancel()
	}

	out := opts.formatter(cmd)
	report, err := driver.Run(ctx, factory, driver.Options{
		Session: session.Config{
			Store:   opts.Store,
			Version: opts.Version,
			Logger:  log,
		},
		OpenTimeout: opts.OpenTimeout,
		Logger:      log,
	})
	if err != nil {
		_ = out.Error(err)
		return WrapExitError(ExitFailure, "run failed", err)
	}

	return out.Result(true, report, func(w io.Writer) {
		fmt.Fprintf(w, "session %s opened %s at version %d (container %s)\n",
			report.SessionID, report.Store, report.InitialVersion, report.Container)
		fmt.Fprintf(w, "held for %v, closed\n", report.Held.Round(time.Millisecond))
	})
}
