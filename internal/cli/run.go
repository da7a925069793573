package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/sigil/internal/mind"
	"github.com/sigil-dev/sigil/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database        string
	Origin          string
	ProcessExisting bool
	MaxDepth        int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the rule engine",
		Long: `Start the rule engine against a SQLite database.

The engine loads rule definitions from /sys/mind/patterns, subscribes
to every store write, and evaluates documents against the rule set
until interrupted. Definitions written while the engine is running are
hot-reloaded.

Example:
  sigil run --db ./sigil.db
  sigil run --db /tmp/test.db --process-existing --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMind(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin marker for produced documents (default \"mind\")")
	cmd.Flags().BoolVar(&opts.ProcessExisting, "process-existing", false, "evaluate documents already in the store on startup")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", mind.DefaultMaxCascadeDepth, "maximum chained-rule cascade depth")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runMind(opts *RunOptions, cmd *cobra.Command) error {
	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	mindOpts := []mind.Option{
		mind.WithProcessExisting(opts.ProcessExisting),
		mind.WithMaxCascadeDepth(opts.MaxDepth),
	}
	if opts.Origin != "" {
		mindOpts = append(mindOpts, mind.WithOrigin(opts.Origin))
	}
	m := mind.New(st, mindOpts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Watching for documents...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := m.Run(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
