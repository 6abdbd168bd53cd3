package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/revsync/internal/config"
	"github.com/roach88/revsync/internal/httppeer"
	"github.com/roach88/revsync/internal/replicate"
)

// ReplicateOptions holds flags for the replicate command.
type ReplicateOptions struct {
	*RootOptions
	Peer       string
	Peers      string
	Direction  string
	Continuous bool
	Docs       []string
}

// ReplicateResult is the output of a one-shot replication.
type ReplicateResult struct {
	Peer     string              `json:"peer"`
	Sessions []replicate.Summary `json:"sessions"`
}

// NewReplicateCommand creates the replicate command.
func NewReplicateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplicateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Replicate with a peer",
		Long: `Replicate the local store with a peer served by "revsync serve".

--peer is a configured peer id or a URL. Pull copies the peer's changes
into the local store, push copies local changes to the peer, both runs the
two concurrently. Each direction resumes from its own checkpoint.

With --continuous the command keeps polling for new changes until
interrupted, backing off after transient failures.

Exit codes:
  0 - Replication completed
  1 - Replication failed
  2 - Command error (unknown peer, bad flags, etc.)

Examples:
  revsync replicate --peer laptop
  revsync replicate --peer http://10.0.0.5:5984 --direction push
  revsync replicate --peers laptop=http://laptop:5984 --peer laptop --continuous
  revsync replicate --peer laptop --doc note-1 --doc note-2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Peer, "peer", "", "peer id or URL (required)")
	cmd.Flags().StringVar(&opts.Peers, "peers", "", "additional peers as id=url,id=url")
	cmd.Flags().StringVar(&opts.Direction, "direction", "both", "direction (pull|push|both)")
	cmd.Flags().BoolVar(&opts.Continuous, "continuous", false, "keep replicating until interrupted")
	cmd.Flags().StringArrayVar(&opts.Docs, "doc", nil, "replicate only this document (repeatable)")
	_ = cmd.MarkFlagRequired("peer")

	return cmd
}

func directionsFor(flag string) ([]replicate.Direction, error) {
	switch flag {
	case "pull":
		return []replicate.Direction{replicate.Pull}, nil
	case "push":
		return []replicate.Direction{replicate.Push}, nil
	case "both":
		return []replicate.Direction{replicate.Pull, replicate.Push}, nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --direction %q: must be pull, push or both", flag))
}

func runReplicate(opts *ReplicateOptions, cmd *cobra.Command) error {
	directions, err := directionsFor(opts.Direction)
	if err != nil {
		return err
	}
	settings, err := opts.settings()
	if err != nil {
		return err
	}
	if opts.Peers != "" {
		extra, err := config.ParsePeers(opts.Peers)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --peers", err)
		}
		settings.Peers = append(settings.Peers, extra...)
	}
	peer, err := settings.LookupPeer(opts.Peer)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --peer", err)
	}

	logger := opts.logger(cmd.ErrOrStderr()).With("peer", peer.ID)
	f := opts.formatter(cmd)

	client, err := httppeer.NewClient(peer.URL, append(settings.ClientOptions(), httppeer.WithClientLogger(logger))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid peer URL", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	tracker, err := openTracker(st)
	if err != nil {
		return err
	}

	repOpts := append(settings.ReplicationOptions(), replicate.WithLogger(logger))
	if len(opts.Docs) > 0 {
		repOpts = append(repOpts, replicate.WithDocIDs(opts.Docs...))
	}

	replicators := make([]*replicate.Replicator, 0, len(directions))
	for _, dir := range directions {
		cfg := replicate.Config{PeerID: peer.ID, Direction: dir, Checkpoints: tracker}
		if dir == replicate.Pull {
			cfg.Source, cfg.Target = client, st
		} else {
			cfg.Source, cfg.Target = st, client
		}
		r, err := replicate.New(cfg, repOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid replication settings", err)
		}
		replicators = append(replicators, r)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Continuous {
		fmt.Fprintf(f.GetErrWriter(), "Replicating with %s (%s). Press Ctrl-C to stop.\n", peer.ID, opts.Direction)
		g := new(errgroup.Group)
		for _, r := range replicators {
			g.Go(func() error { return r.Run(ctx) })
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return f.Fail("replication stopped", err)
		}
		return nil
	}

	if err := client.Health(ctx); err != nil {
		return f.Fail("peer unavailable", err)
	}

	result := ReplicateResult{Peer: peer.ID}
	if len(replicators) == 2 {
		pull, push, err := replicate.Bidirectional(ctx, replicators[0], replicators[1])
		result.Sessions = []replicate.Summary{pull, push}
		if err != nil {
			return f.Fail("replication failed", err)
		}
	} else {
		summary, err := replicators[0].Replicate(ctx)
		result.Sessions = []replicate.Summary{summary}
		if err != nil {
			return f.Fail("replication failed", err)
		}
	}

	return f.Render(result, func(w io.Writer) {
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "%s %s: %d changes, %d documents applied (%d revisions), %d up to date, checkpoint %d -> %d\n",
				s.Direction, result.Peer, s.ChangesRead, s.DocsApplied, s.RevisionsApplied, s.DocsUpToDate,
				s.StartCheckpoint, s.LastCheckpoint)
			for _, sk := range s.Skipped {
				fmt.Fprintf(w, "  skipped %s at %d: %s %s\n", sk.DocID, sk.Seq, sk.Code, sk.Reason)
			}
		}
	})
}
