package replicate

import (
	"context"

	"github.com/roach88/revsync/internal/ir"
)

// Peer is anything replicable: the local revision store, or a remote store
// reached over HTTP. *store.Store satisfies it directly.
type Peer interface {
	// ChangesSince returns up to limit change entries after since, ascending.
	ChangesSince(ctx context.Context, since int64, limit int) ([]ir.ChangeEntry, error)

	// GetRevision returns a revision with its body.
	GetRevision(ctx context.Context, docID string, revID ir.RevID) (ir.Revision, error)

	// GetLeafRevisions returns every leaf of a document's tree.
	GetLeafRevisions(ctx context.Context, docID string) ([]ir.Revision, error)

	// MissingRevisions returns the subset of revIDs the peer does not hold.
	MissingRevisions(ctx context.Context, docID string, revIDs []ir.RevID) ([]ir.RevID, error)

	// PutRevisions applies revisions of one document all-or-nothing and
	// returns how many were new.
	PutRevisions(ctx context.Context, docID string, revs []ir.Revision) (int, error)
}

// Checkpoints is the checkpoint tracker as seen by the replicator.
type Checkpoints interface {
	GetCheckpoint(ctx context.Context, peerID string) (int64, error)
	SetCheckpoint(ctx context.Context, peerID string, seq int64) error
}
