package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/replicate"
	"github.com/roach88/revsync/internal/store"
)

// CheckpointOptions holds flags for the checkpoint command.
type CheckpointOptions struct {
	*RootOptions
	Direction string
	Reset     bool
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoint [peer]",
		Short: "Show or reset replication checkpoints",
		Long: `Show the last replicated sequence per peer and direction.

With a peer, shows that peer's checkpoint for --direction. --reset forgets
it so that the next session starts from the beginning of the feed.

Examples:
  revsync checkpoint
  revsync checkpoint laptop --direction push
  revsync checkpoint laptop --reset`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := replicate.Direction(opts.Direction)
			if dir != replicate.Pull && dir != replicate.Push {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --direction %q: must be pull or push", opts.Direction))
			}
			if opts.Reset && len(args) == 0 {
				return NewExitError(ExitCommandError, "--reset needs a peer")
			}
			return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				tr, err := openTracker(st)
				if err != nil {
					return err
				}

				if len(args) == 0 {
					list, err := tr.List(ctx)
					if err != nil {
						return f.Fail("list checkpoints failed", err)
					}
					if list == nil {
						list = []ir.Checkpoint{}
					}
					return f.Render(list, func(w io.Writer) {
						if len(list) == 0 {
							fmt.Fprintln(w, "No checkpoints.")
							return
						}
						for _, cp := range list {
							fmt.Fprintf(w, "%s %d\n", cp.PeerID, cp.LastSequence)
						}
					})
				}

				key := replicate.CheckpointKey(args[0], dir)
				if opts.Reset {
					if err := tr.Reset(ctx, key); err != nil {
						return f.Fail("reset checkpoint failed", err)
					}
				}
				seq, err := tr.GetCheckpoint(ctx, key)
				if err != nil {
					return f.Fail("read checkpoint failed", err)
				}
				cp := ir.Checkpoint{PeerID: key, LastSequence: seq}
				return f.Render(cp, func(w io.Writer) {
					fmt.Fprintf(w, "%s %d\n", cp.PeerID, cp.LastSequence)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", string(replicate.Pull), "direction (pull|push)")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "forget the checkpoint")
	return cmd
}
