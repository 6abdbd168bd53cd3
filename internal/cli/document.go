package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/conflict"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/store"
)

// DocOptions holds flags shared by the doc subcommands.
type DocOptions struct {
	*RootOptions
	Body string
	Rev  string

	Offset     int
	Limit      int
	Descending bool
}

// NewDocCommand creates the doc command and its subcommands.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and write documents in the local store",
	}
	cmd.AddCommand(
		newDocCreateCommand(&DocOptions{RootOptions: rootOpts}),
		newDocUpdateCommand(&DocOptions{RootOptions: rootOpts}),
		newDocDeleteCommand(&DocOptions{RootOptions: rootOpts}),
		newDocGetCommand(&DocOptions{RootOptions: rootOpts}),
		newDocLeavesCommand(&DocOptions{RootOptions: rootOpts}),
		newDocListCommand(&DocOptions{RootOptions: rootOpts}),
		newDocConflictsCommand(&DocOptions{RootOptions: rootOpts}),
		newDocResolveCommand(&DocOptions{RootOptions: rootOpts}),
	)
	return cmd
}

// withStore opens the store, runs fn and closes the store.
func withStore(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, f *OutputFormatter) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st, opts.formatter(cmd))
}

func parseBody(raw string) (ir.IRObject, error) {
	if raw == "" {
		return ir.IRObject{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(raw))
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --body: %v", err))
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, NewExitError(ExitCommandError, "invalid --body: must be a JSON object")
	}
	return obj, nil
}

func parseRev(raw string) (ir.RevID, error) {
	rev, err := ir.ParseRevID(raw)
	if err != nil || rev.IsZero() {
		return ir.RevID{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --rev %q", raw))
	}
	return rev, nil
}

func writeRevision(w io.Writer, rev ir.Revision) {
	state := ""
	if rev.Deleted {
		state = " (deleted)"
	}
	body, err := ir.MarshalCanonical(rev.Body)
	if err != nil {
		body = []byte("?")
	}
	fmt.Fprintf(w, "%s %s%s %s\n", rev.DocID, rev.RevID, state, body)
}

func writeRevisions(w io.Writer, revs []ir.Revision) {
	if len(revs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return
	}
	for _, rev := range revs {
		writeRevision(w, rev)
	}
}

func newDocCreateCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [id]",
		Short: "Create a document",
		Long: `Create a document with a first revision.

Without an id a time-ordered UUID is generated. Creating over a deleted
document starts a new branch on top of its tombstone.

Examples:
  revsync doc create note-1 --body '{"title":"hello"}'
  revsync doc create --body '{}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseBody(opts.Body)
			if err != nil {
				return err
			}
			docID := ""
			if len(args) == 1 {
				docID = args[0]
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				rev, err := st.CreateDocument(ctx, docID, body)
				if err != nil {
					return f.Fail("create failed", err)
				}
				return f.Render(rev, func(w io.Writer) { writeRevision(w, rev) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Body, "body", "{}", "document body as a JSON object")
	return cmd
}

func newDocUpdateCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Write a new revision on top of the current winner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseBody(opts.Body)
			if err != nil {
				return err
			}
			parent, err := parseRev(opts.Rev)
			if err != nil {
				return err
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				rev, err := st.UpdateDocument(ctx, args[0], parent, body)
				if err != nil {
					return f.Fail("update failed", err)
				}
				return f.Render(rev, func(w io.Writer) { writeRevision(w, rev) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Body, "body", "{}", "document body as a JSON object")
	cmd.Flags().StringVar(&opts.Rev, "rev", "", "current winning revision (required)")
	_ = cmd.MarkFlagRequired("rev")
	return cmd
}

func newDocDeleteCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document by writing a tombstone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := parseRev(opts.Rev)
			if err != nil {
				return err
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				rev, err := st.DeleteDocument(ctx, args[0], parent)
				if err != nil {
					return f.Fail("delete failed", err)
				}
				return f.Render(rev, func(w io.Writer) { writeRevision(w, rev) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Rev, "rev", "", "current winning revision (required)")
	_ = cmd.MarkFlagRequired("rev")
	return cmd
}

func newDocGetCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show the winning revision, or a specific one with --rev",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var revID ir.RevID
			if opts.Rev != "" {
				var err error
				if revID, err = parseRev(opts.Rev); err != nil {
					return err
				}
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				var (
					rev ir.Revision
					err error
				)
				if revID.IsZero() {
					rev, err = st.GetDocument(ctx, args[0])
				} else {
					rev, err = st.GetRevision(ctx, args[0], revID)
				}
				if err != nil {
					return f.Fail("get failed", err)
				}
				return f.Render(rev, func(w io.Writer) { writeRevision(w, rev) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Rev, "rev", "", "revision to read instead of the winner")
	return cmd
}

func newDocLeavesCommand(opts *DocOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaves <id>",
		Short: "List every leaf of a document's revision tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				leaves, err := st.GetLeafRevisions(ctx, args[0])
				if err != nil {
					return f.Fail("leaves failed", err)
				}
				if leaves == nil {
					leaves = []ir.Revision{}
				}
				return f.Render(leaves, func(w io.Writer) { writeRevisions(w, leaves) })
			})
		},
	}
}

func newDocListCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live documents ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				docs, err := st.AllDocuments(ctx, store.ListOptions{
					Offset:     opts.Offset,
					Limit:      opts.Limit,
					Descending: opts.Descending,
				})
				if err != nil {
					return f.Fail("list failed", err)
				}
				if docs == nil {
					docs = []ir.Revision{}
				}
				return f.Render(docs, func(w io.Writer) { writeRevisions(w, docs) })
			})
		},
	}
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "skip this many documents")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum documents to list (0 for all)")
	cmd.Flags().BoolVar(&opts.Descending, "descending", false, "reverse id order")
	return cmd
}

func newDocConflictsCommand(opts *DocOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts [id]",
		Short: "List conflicted documents, or the live leaves of one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				if len(args) == 1 {
					leaves, err := st.Conflicts(ctx, args[0])
					if err != nil {
						return f.Fail("conflicts failed", err)
					}
					if leaves == nil {
						leaves = []ir.Revision{}
					}
					return f.Render(leaves, func(w io.Writer) { writeRevisions(w, leaves) })
				}

				ids, err := st.ConflictedDocumentIDs(ctx)
				if err != nil {
					return f.Fail("conflicts failed", err)
				}
				if ids == nil {
					ids = []string{}
				}
				return f.Render(ids, func(w io.Writer) {
					if len(ids) == 0 {
						fmt.Fprintln(w, "No conflicts.")
						return
					}
					for _, id := range ids {
						fmt.Fprintln(w, id)
					}
				})
			})
		},
	}
}

func newDocResolveCommand(opts *DocOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a conflicted document",
		Long: `Resolve a conflicted document.

The new revision extends the current winner and every other live branch is
closed with a tombstone. Without --body the winner's body is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := conflict.KeepWinner
			if opts.Body != "" {
				body, err := parseBody(opts.Body)
				if err != nil {
					return err
				}
				resolver = conflict.ResolverFunc(func(string, []ir.Revision) ir.IRObject {
					return body.Clone()
				})
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				rev, err := st.ResolveConflicts(ctx, args[0], resolver)
				if err != nil {
					return f.Fail("resolve failed", err)
				}
				return f.Render(rev, func(w io.Writer) { writeRevision(w, rev) })
			})
		},
	}
	cmd.Flags().StringVar(&opts.Body, "body", "", "merged body as a JSON object (default: keep the winner)")
	return cmd
}
