package replicate

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/checkpoint"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(t *testing.T, name string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTracker(t *testing.T, s *store.Store) *checkpoint.Tracker {
	t.Helper()
	tr, err := checkpoint.New(s.DB())
	require.NoError(t, err)
	return tr
}

func fastOptions(extra ...Option) []Option {
	opts := []Option{
		WithLogger(quietLogger),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithMaxAttempts(3),
		WithPollInterval(10 * time.Millisecond),
	}
	return append(opts, extra...)
}

func newReplicator(t *testing.T, cfg Config, opts ...Option) *Replicator {
	t.Helper()
	r, err := New(cfg, fastOptions(opts...)...)
	require.NoError(t, err)
	return r
}

func pullFrom(t *testing.T, peerID string, remote Peer, local *store.Store, tr Checkpoints, opts ...Option) *Replicator {
	t.Helper()
	return newReplicator(t, Config{PeerID: peerID, Direction: Pull, Source: remote, Target: local, Checkpoints: tr}, opts...)
}

func pushTo(t *testing.T, peerID string, remote Peer, local *store.Store, tr Checkpoints, opts ...Option) *Replicator {
	t.Helper()
	return newReplicator(t, Config{PeerID: peerID, Direction: Push, Source: local, Target: remote, Checkpoints: tr}, opts...)
}

func create(t *testing.T, s *store.Store, docID string, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.CreateDocument(context.Background(), docID, body)
	require.NoError(t, err)
	return rev
}

func update(t *testing.T, s *store.Store, docID string, parent ir.RevID, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.UpdateDocument(context.Background(), docID, parent, body)
	require.NoError(t, err)
	return rev
}

func leafIDs(t *testing.T, s *store.Store, docID string) []string {
	t.Helper()
	leaves, err := s.GetLeafRevisions(context.Background(), docID)
	require.NoError(t, err)
	out := make([]string, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, l.RevID.String())
	}
	return out
}

func checkpointOf(t *testing.T, tr *checkpoint.Tracker, key string) int64 {
	t.Helper()
	seq, err := tr.GetCheckpoint(context.Background(), key)
	require.NoError(t, err)
	return seq
}

// faultyPeer wraps a Peer and injects errors.
type faultyPeer struct {
	Peer

	mu sync.Mutex
	// changesFailures makes the next N ChangesSince calls fail transiently.
	changesFailures int
	changesCalls    int
	// putErrors fails PutRevisions for the listed documents.
	putErrors map[string]error
	// getErrors fails GetRevision for the listed documents.
	getErrors map[string]error
}

func (f *faultyPeer) ChangesSince(ctx context.Context, since int64, limit int) ([]ir.ChangeEntry, error) {
	f.mu.Lock()
	f.changesCalls++
	if f.changesFailures > 0 {
		f.changesFailures--
		f.mu.Unlock()
		return nil, ir.NewTransientError("connection reset by peer", nil)
	}
	f.mu.Unlock()
	return f.Peer.ChangesSince(ctx, since, limit)
}

func (f *faultyPeer) GetRevision(ctx context.Context, docID string, revID ir.RevID) (ir.Revision, error) {
	f.mu.Lock()
	err := f.getErrors[docID]
	f.mu.Unlock()
	if err != nil {
		return ir.Revision{}, err
	}
	return f.Peer.GetRevision(ctx, docID, revID)
}

func (f *faultyPeer) PutRevisions(ctx context.Context, docID string, revs []ir.Revision) (int, error) {
	f.mu.Lock()
	err := f.putErrors[docID]
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Peer.PutRevisions(ctx, docID, revs)
}

func (f *faultyPeer) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changesFailures = 0
	f.putErrors = nil
	f.getErrors = nil
}

// regressingCheckpoints rejects every commit as a regression.
type regressingCheckpoints struct {
	sets int
}

func (c *regressingCheckpoints) GetCheckpoint(context.Context, string) (int64, error) {
	return 0, nil
}

func (c *regressingCheckpoints) SetCheckpoint(_ context.Context, peerID string, seq int64) error {
	c.sets++
	return ir.NewRegressionError(peerID, 1000, seq)
}

// eventLog records listener events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, ev := range l.events {
		if !ev.Committed {
			out = append(out, ev.To)
		}
	}
	return out
}

func (l *eventLog) commits() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int64
	for _, ev := range l.events {
		if ev.Committed {
			out = append(out, ev.Checkpoint)
		}
	}
	return out
}
