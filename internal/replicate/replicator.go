package replicate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/revsync/internal/changes"
	"github.com/roach88/revsync/internal/ir"
)

// Config names the two ends of a session. For a pull, Source is the remote
// peer and Target the local store; for a push the roles swap. Checkpoints is
// always the local tracker.
type Config struct {
	PeerID      string
	Direction   Direction
	Source      Peer
	Target      Peer
	Checkpoints Checkpoints
}

// Replicator runs replication sessions for one peer and direction.
// Sessions of one Replicator must not overlap; distinct Replicators may run
// concurrently against the same store.
type Replicator struct {
	cfg    Config
	reader *changes.Reader

	batchSize      int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	pollInterval   time.Duration
	docIDs         map[string]bool
	logger         *slog.Logger
	listeners      []Listener

	mu    sync.Mutex
	state State
}

// New creates a Replicator.
func New(cfg Config, opts ...Option) (*Replicator, error) {
	if cfg.PeerID == "" {
		return nil, errors.New("replicator: peer id is required")
	}
	if cfg.Direction != Pull && cfg.Direction != Push {
		return nil, fmt.Errorf("replicator: invalid direction %q", cfg.Direction)
	}
	if cfg.Source == nil || cfg.Target == nil || cfg.Checkpoints == nil {
		return nil, errors.New("replicator: source, target and checkpoints are required")
	}

	r := &Replicator{
		cfg:            cfg,
		batchSize:      DefaultBatchSize,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		pollInterval:   DefaultPollInterval,
		logger:         slog.Default(),
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reader = changes.NewReader(cfg.Source, changes.WithPageSize(r.batchSize))
	r.logger = r.logger.With("peer", cfg.PeerID, "direction", string(cfg.Direction))
	return r, nil
}

// State returns the current state.
func (r *Replicator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CheckpointKey returns the tracker key this replicator commits under.
func (r *Replicator) CheckpointKey() string {
	return CheckpointKey(r.cfg.PeerID, r.cfg.Direction)
}

// session is the mutable state of one Replicate call.
type session struct {
	id      string
	logger  *slog.Logger
	summary Summary

	// checkpoint is the last committed value.
	checkpoint int64
	// ceiling caps commits once a document was skipped: the checkpoint must
	// stay below the first skipped sequence for the rest of the session.
	ceiling int64
}

// docWork is one document's slice of a batch.
type docWork struct {
	docID   string
	minSeq  int64
	revIDs  []ir.RevID
	missing []ir.RevID
	chain   []ir.Revision
	err     error
}

// Replicate runs one session: it replicates every change after the stored
// checkpoint up to the current end of the source feed, batch by batch.
//
// The returned Summary is populated even when err is non-nil. Errors are
// fatal to the session: transient failures that outlived the retry budget,
// checkpoint regression, and context cancellation.
func (r *Replicator) Replicate(ctx context.Context) (Summary, error) {
	id, err := uuid.NewV7()
	if err != nil {
		err = fmt.Errorf("generate session id: %w", err)
		return Summary{PeerID: r.cfg.PeerID, Direction: r.cfg.Direction, Skipped: []SkippedDoc{}, Error: err.Error()}, err
	}
	sessionID := id.String()
	s := &session{
		id:     sessionID,
		logger: r.logger.With("session", sessionID),
		summary: Summary{
			SessionID: sessionID,
			PeerID:    r.cfg.PeerID,
			Direction: r.cfg.Direction,
			StartedAt: time.Now().UTC(),
			Skipped:   []SkippedDoc{},
		},
		ceiling: -1,
	}

	if r.State() == StateFailed {
		r.transition(s, StateIdle, nil)
	}

	err = r.run(ctx, s)
	s.summary.Duration = time.Since(s.summary.StartedAt).Round(time.Millisecond).String()
	if err != nil {
		s.summary.Error = err.Error()
		r.transition(s, StateFailed, err)
		s.logger.Error("replication failed",
			"checkpoint", s.checkpoint,
			"applied", s.summary.DocsApplied,
			"skipped", len(s.summary.Skipped),
			"error", err,
		)
		return s.summary, err
	}

	r.transition(s, StateIdle, nil)
	s.logger.Info("replication complete",
		"checkpoint", s.checkpoint,
		"changes", s.summary.ChangesRead,
		"applied", s.summary.DocsApplied,
		"revisions", s.summary.RevisionsApplied,
		"skipped", len(s.summary.Skipped),
	)
	return s.summary, nil
}

func (r *Replicator) run(ctx context.Context, s *session) error {
	r.transition(s, StateFetchingCheckpoint, nil)
	key := r.CheckpointKey()
	cp, err := retry(ctx, r, s, "get checkpoint", func() (int64, error) {
		return r.cfg.Checkpoints.GetCheckpoint(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("fetch checkpoint: %w", err)
	}
	s.checkpoint = cp
	s.summary.StartCheckpoint = cp
	s.summary.LastCheckpoint = cp

	cursor := cp
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.transition(s, StateReadingChanges, nil)
		batch, err := retry(ctx, r, s, "read changes", func() ([]ir.ChangeEntry, error) {
			return r.nextBatch(ctx, cursor)
		})
		if err != nil {
			return fmt.Errorf("read changes: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		s.summary.Batches++
		s.summary.ChangesRead += len(batch)

		if err := r.processBatch(ctx, s, batch); err != nil {
			return err
		}

		cursor = batch[len(batch)-1].Seq
		if len(batch) < r.batchSize {
			return nil
		}
	}
}

// nextBatch reads one batch of the source feed after cursor.
func (r *Replicator) nextBatch(ctx context.Context, cursor int64) ([]ir.ChangeEntry, error) {
	for batch, err := range r.reader.Batches(ctx, cursor, r.batchSize) {
		return batch, err
	}
	return nil, nil
}

func (r *Replicator) processBatch(ctx context.Context, s *session, batch []ir.ChangeEntry) error {
	docs := r.groupByDocument(batch)

	r.transition(s, StateDiffingRevisions, nil)
	for _, d := range docs {
		missing, err := retry(ctx, r, s, "diff revisions", func() ([]ir.RevID, error) {
			return r.cfg.Target.MissingRevisions(ctx, d.docID, d.revIDs)
		})
		if err := r.docFailure(d, err); err != nil {
			return err
		}
		d.missing = missing
	}

	r.transition(s, StateTransferringBodies, nil)
	for _, d := range docs {
		if d.err != nil || len(d.missing) == 0 {
			continue
		}
		chain, err := r.transfer(ctx, s, d)
		if err := r.docFailure(d, err); err != nil {
			return err
		}
		d.chain = chain
	}

	r.transition(s, StateApplyingLocally, nil)
	for _, d := range docs {
		if d.err != nil {
			r.skip(s, d)
			continue
		}
		if len(d.chain) == 0 {
			s.summary.DocsUpToDate++
			continue
		}
		n, err := retry(ctx, r, s, "apply revisions", func() (int, error) {
			return r.cfg.Target.PutRevisions(ctx, d.docID, d.chain)
		})
		if err := r.docFailure(d, err); err != nil {
			return err
		}
		if d.err != nil {
			r.skip(s, d)
			continue
		}
		s.summary.DocsApplied++
		s.summary.RevisionsApplied += n
		s.logger.Debug("document applied", "doc", d.docID, "revisions", n)
	}

	r.transition(s, StateCommittingCheckpoint, nil)
	return r.commit(ctx, s, batch[len(batch)-1].Seq)
}

// groupByDocument splits a batch per document in first-appearance order,
// applying the document filter.
func (r *Replicator) groupByDocument(batch []ir.ChangeEntry) []*docWork {
	byID := make(map[string]*docWork)
	var docs []*docWork
	for _, entry := range batch {
		if r.docIDs != nil && !r.docIDs[entry.DocID] {
			continue
		}
		d, ok := byID[entry.DocID]
		if !ok {
			d = &docWork{docID: entry.DocID, minSeq: entry.Seq}
			byID[entry.DocID] = d
			docs = append(docs, d)
		}
		if !slices.Contains(d.revIDs, entry.RevID) {
			d.revIDs = append(d.revIDs, entry.RevID)
		}
	}
	return docs
}

// transfer fetches the missing revisions of one document from the source,
// walking parent links until it reaches a revision the target already has,
// and returns them parents first.
func (r *Replicator) transfer(ctx context.Context, s *session, d *docWork) ([]ir.Revision, error) {
	fetched := make(map[ir.RevID]ir.Revision)
	pending := slices.Clone(d.missing)

	for len(pending) > 0 {
		revID := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, ok := fetched[revID]; ok {
			continue
		}

		rev, err := retry(ctx, r, s, "get revision", func() (ir.Revision, error) {
			return r.cfg.Source.GetRevision(ctx, d.docID, revID)
		})
		if err != nil {
			return nil, err
		}
		if rev.DocID != d.docID || rev.RevID != revID {
			return nil, ir.NewStructuralError(d.docID, revID.String(), "source returned a different revision")
		}
		fetched[revID] = rev

		if rev.Parent.IsZero() {
			continue
		}
		if _, ok := fetched[rev.Parent]; ok {
			continue
		}
		parentMissing, err := retry(ctx, r, s, "diff ancestors", func() ([]ir.RevID, error) {
			return r.cfg.Target.MissingRevisions(ctx, d.docID, []ir.RevID{rev.Parent})
		})
		if err != nil {
			return nil, err
		}
		if len(parentMissing) > 0 {
			pending = append(pending, rev.Parent)
		}
	}

	chain := make([]ir.Revision, 0, len(fetched))
	for _, rev := range fetched {
		chain = append(chain, rev)
	}
	slices.SortFunc(chain, func(a, b ir.Revision) int {
		if c := cmp.Compare(a.RevID.Gen, b.RevID.Gen); c != 0 {
			return c
		}
		return cmp.Compare(a.RevID.Digest, b.RevID.Digest)
	})
	return chain, nil
}

// docFailure records err against d when it only concerns that document and
// returns nil so the batch continues. Other errors are returned as fatal.
func (r *Replicator) docFailure(d *docWork, err error) error {
	if err == nil {
		return nil
	}
	if isDocumentError(err) {
		d.err = err
		return nil
	}
	return fmt.Errorf("document %q: %w", d.docID, err)
}

// isDocumentError reports whether err is confined to one document's data.
func isDocumentError(err error) bool {
	return ir.IsStructural(err) || ir.IsInvalidTree(err) || ir.IsNotFound(err) || ir.IsConflict(err)
}

func (r *Replicator) skip(s *session, d *docWork) {
	code := ir.CodeOf(d.err)
	s.summary.Skipped = append(s.summary.Skipped, SkippedDoc{
		DocID:  d.docID,
		Seq:    d.minSeq,
		Code:   code,
		Reason: d.err.Error(),
	})
	if s.ceiling < 0 || d.minSeq-1 < s.ceiling {
		s.ceiling = d.minSeq - 1
	}
	s.logger.Warn("document skipped", "doc", d.docID, "seq", d.minSeq, "code", string(code), "error", d.err)
}

// commit advances the checkpoint to batchMax, or to just below the first
// skipped sequence of this session, whichever is lower.
func (r *Replicator) commit(ctx context.Context, s *session, batchMax int64) error {
	target := batchMax
	if s.ceiling >= 0 && s.ceiling < target {
		target = s.ceiling
	}
	if target <= s.checkpoint {
		return nil
	}

	key := r.CheckpointKey()
	_, err := retry(ctx, r, s, "commit checkpoint", func() (struct{}, error) {
		return struct{}{}, r.cfg.Checkpoints.SetCheckpoint(ctx, key, target)
	})
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	s.checkpoint = target
	s.summary.LastCheckpoint = target
	s.logger.Info("checkpoint committed", "checkpoint", target)
	r.notify(Event{
		SessionID:  s.id,
		PeerID:     r.cfg.PeerID,
		Direction:  r.cfg.Direction,
		From:       StateCommittingCheckpoint,
		To:         StateCommittingCheckpoint,
		Checkpoint: target,
		Committed:  true,
	})
	return nil
}

func (r *Replicator) transition(s *session, to State, err error) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	s.logger.Debug("state change", "from", from.String(), "to", to.String())
	r.notify(Event{
		SessionID:  s.id,
		PeerID:     r.cfg.PeerID,
		Direction:  r.cfg.Direction,
		From:       from,
		To:         to,
		Checkpoint: s.checkpoint,
		Err:        err,
	})
}

func (r *Replicator) notify(ev Event) {
	for _, l := range r.listeners {
		l(ev)
	}
}
