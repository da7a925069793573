package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/sigil/internal/doc"
	"github.com/sigil-dev/sigil/internal/store"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Database string
	Type     string
	Origin   string
}

// writeResult is the JSON payload printed after a successful write.
type writeResult struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <key> <json-data>",
		Short: "Write a document into the store",
		Long: `Write a document at a path key, triggering any rules watching it.

The data argument must be a JSON value. A running engine sees the
write immediately.

Example:
  sigil write --db ./sigil.db /input/doc123 '{"value":42,"name":"test"}'
  sigil write --db ./sigil.db --type order@v1 /orders/1 '{"total":99}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "doc@v1", "document type tag")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "producer marker recorded on the document")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runWrite(opts *WriteOptions, key, payload string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := doc.DecodeData([]byte(payload))
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("invalid JSON data: %v", err), nil)
		return WrapExitError(ExitCommandError, "invalid JSON data", err)
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

	stored, err := st.Write(ctx, doc.Document{
		Key:  key,
		Type: opts.Type,
		Meta: doc.Metadata{ProducedBy: opts.Origin},
		Data: data,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "writing document", err)
	}

	if opts.Format == "json" {
		return formatter.Success(writeResult{
			Key:     stored.Key,
			Type:    stored.Type,
			Version: stored.Meta.Version,
		})
	}
	fmt.Fprintf(formatter.Writer, "Wrote %s (version %d)\n", stored.Key, stored.Meta.Version)
	return nil
}
