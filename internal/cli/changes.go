package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/changes"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/store"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Since int64
	Limit int
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the local change feed",
		Long: `Print the change feed of the local store in sequence order.

Every write appears once, with the sequence the store assigned to it.

Examples:
  revsync changes
  revsync changes --since 120 --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Since < 0 || opts.Limit < 0 {
				return NewExitError(ExitCommandError, "--since and --limit must be non-negative")
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				entries, err := readChanges(ctx, st, opts.Since, opts.Limit)
				if err != nil {
					return f.Fail("read changes failed", err)
				}
				return f.Render(entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "No changes.")
						return
					}
					for _, e := range entries {
						deleted := ""
						if e.Deleted {
							deleted = " deleted"
						}
						fmt.Fprintf(w, "%d %s %s%s\n", e.Seq, e.DocID, e.RevID, deleted)
					}
				})
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only changes after this sequence")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (0 for all)")
	return cmd
}

func readChanges(ctx context.Context, st *store.Store, since int64, limit int) ([]ir.ChangeEntry, error) {
	entries := []ir.ChangeEntry{}
	for entry, err := range changes.NewReader(st).Read(ctx, since) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}
