package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/sigil/internal/doc"
	"github.com/sigil-dev/sigil/internal/store"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Database string
	Watch    bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <defs-dir>",
		Short: "Write rule definitions into the store",
		Long: `Compile-check rule definitions and write them under
/sys/mind/patterns/<name>.

Definitions are authored as CUE files with top-level
"pattern: <name>: {...}" fields, or as one-definition-per-file YAML.
A running engine picks up the writes through its version-gated hot
reload.

With --watch, the command stays up and re-loads whenever a definition
file changes on disk.

Example:
  sigil load --db ./sigil.db ./rules
  sigil load --db ./sigil.db ./rules --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "re-load when definition files change")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLoad(opts *LoadOptions, defsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := loadOnce(ctx, st, defsDir, formatter)
	if err != nil {
		return err
	}
	if err := formatter.Success(fmt.Sprintf("Loaded %d definition(s)", count)); err != nil {
		return err
	}

	if !opts.Watch {
		return nil
	}
	return watchAndReload(ctx, st, defsDir, formatter, cmd)
}

// loadOnce loads the directory in fail-fast mode and writes every
// definition to the store. Returns the number of definitions written.
func loadOnce(ctx context.Context, st *store.Store, defsDir string, formatter *OutputFormatter) (int, error) {
	result, loadErrors := LoadDefinitions(defsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return 0, NewExitError(ExitCommandError, loadErr.Message)
		}
		return 0, WrapExitError(ExitCommandError, "loading definitions", loadErrors[0])
	}
	formatter.VerboseLog("Found %d definition file(s) in %s", result.FileCount, defsDir)

	for _, nd := range result.Definitions {
		d, err := definitionDocument(nd)
		if err != nil {
			return 0, WrapExitError(ExitCommandError, "encoding definition "+nd.Name, err)
		}
		stored, err := st.Write(ctx, d)
		if err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return 0, WrapExitError(ExitCommandError, "writing definition "+nd.Name, err)
		}
		formatter.VerboseLog("Wrote %s (version %d)", stored.Key, stored.Meta.Version)
	}
	return len(result.Definitions), nil
}

// definitionDocument converts a checked definition into its store form.
func definitionDocument(nd NamedDefinition) (doc.Document, error) {
	raw, err := json.Marshal(nd.Definition)
	if err != nil {
		return doc.Document{}, err
	}
	data, err := doc.DecodeData(raw)
	if err != nil {
		return doc.Document{}, err
	}
	return doc.Document{
		Key:  doc.PatternsPrefix + "/" + nd.Name,
		Type: "mind/pattern@v1",
		Data: data,
	}, nil
}

// watchAndReload blocks, re-running loadOnce whenever a definition file
// under defsDir changes. Events are debounced: editors fire several
// writes per save.
func watchAndReload(ctx context.Context, st *store.Store, defsDir string, formatter *OutputFormatter, cmd *cobra.Command) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "starting file watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(defsDir); err != nil {
		return WrapExitError(ExitCommandError, "watching "+defsDir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
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

	fmt.Fprintln(cmd.OutOrStdout(), "Watching for definition changes. Press Ctrl-C to stop.")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("file watcher error", "error", err)
		case <-debounce:
			debounce = nil
			count, err := loadOnce(ctx, st, defsDir, formatter)
			if err != nil {
				// A broken edit must not kill the watch loop.
				slog.Error("reload failed", "dir", defsDir, "error", err)
				continue
			}
			slog.Info("definitions reloaded", "dir", defsDir, "count", count)
		}
	}
}

// isDefinitionFile reports whether the path has a definition extension.
func isDefinitionFile(path string) bool {
	switch filepath.Ext(path) {
	case ".cue", ".yaml", ".yml":
		return true
	}
	return false
}
