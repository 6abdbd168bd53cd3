package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/revsync/internal/checkpoint"
	"github.com/roach88/revsync/internal/conflict"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/replicate"
	"github.com/roach88/revsync/internal/store"
)

// replica is one named store with its checkpoint tracker.
type replica struct {
	store   *store.Store
	tracker *checkpoint.Tracker
}

// Harness executes a scenario.
type Harness struct {
	replicas map[string]*replica
	order    []string
	logger   *slog.Logger
}

// Run executes scenario against fresh stores in a scratch directory and
// returns the result. The error is non-nil only when the scenario could not
// be executed at all; step and expectation failures land in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "revsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		replicas: make(map[string]*replica, len(scenario.Stores)),
		order:    scenario.Stores,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs
	}
	defer h.close()

	for _, name := range scenario.Stores {
		st, err := store.Open(filepath.Join(dir, name+".db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open store %q: %w", name, err)
		}
		tr, err := checkpoint.New(st.DB())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open checkpoints for %q: %w", name, err)
		}
		h.replicas[name] = &replica{store: st, tracker: tr}
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := h.execute(ctx, step)
		event.Step = i + 1
		event.Op = step.Op
		if err != nil {
			code := ir.CodeOf(err)
			if code == "" {
				return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
			}
			event.Error = string(code)
			if step.Error == "" {
				result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i+1, step.Op, err))
			} else if step.Error != string(code) {
				result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %s", i+1, step.Op, step.Error, code))
			}
		} else if step.Error != "" {
			result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", i+1, step.Op, step.Error))
		}
		result.Trace = append(result.Trace, event)
	}

	for _, name := range h.order {
		state, err := h.storeState(ctx, name)
		if err != nil {
			return nil, err
		}
		result.Final = append(result.Final, state)
	}

	if err := h.checkExpectations(ctx, scenario.Expect, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Harness) close() {
	for _, r := range h.replicas {
		r.store.Close()
	}
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	switch step.Op {
	case OpReplicate:
		return h.replicate(ctx, step)
	}

	event := TraceEvent{Store: step.Store, Doc: step.Doc}
	st := h.replicas[step.Store].store

	var (
		rev ir.Revision
		err error
	)
	switch step.Op {
	case OpCreate:
		var body ir.IRObject
		if body, err = ir.ToIRObject(orEmpty(step.Body)); err != nil {
			return event, ir.NewStructuralError(step.Doc, "", err.Error())
		}
		rev, err = st.CreateDocument(ctx, step.Doc, body)
	case OpUpdate:
		var body ir.IRObject
		if body, err = ir.ToIRObject(orEmpty(step.Body)); err != nil {
			return event, ir.NewStructuralError(step.Doc, "", err.Error())
		}
		var current ir.Revision
		if current, err = st.GetDocument(ctx, step.Doc); err == nil {
			rev, err = st.UpdateDocument(ctx, step.Doc, current.RevID, body)
		}
	case OpDelete:
		var current ir.Revision
		if current, err = st.GetDocument(ctx, step.Doc); err == nil {
			rev, err = st.DeleteDocument(ctx, step.Doc, current.RevID)
		}
	case OpResolve:
		resolver := conflict.KeepWinner
		if step.Body != nil {
			body, convErr := ir.ToIRObject(step.Body)
			if convErr != nil {
				return event, ir.NewStructuralError(step.Doc, "", convErr.Error())
			}
			resolver = conflict.ResolverFunc(func(string, []ir.Revision) ir.IRObject { return body.Clone() })
		}
		rev, err = st.ResolveConflicts(ctx, step.Doc, resolver)
	}
	if err != nil {
		return event, err
	}
	if event.Doc == "" {
		// Generated ids are not stable across runs.
		event.Doc = "<generated>"
	}
	event.Generation = rev.RevID.Gen
	event.Deleted = rev.Deleted
	return event, nil
}

func (h *Harness) replicate(ctx context.Context, step Step) (TraceEvent, error) {
	event := TraceEvent{From: step.From, To: step.To}
	source, target := h.replicas[step.From], h.replicas[step.To]

	opts := []replicate.Option{
		replicate.WithLogger(h.logger),
		replicate.WithBackoff(time.Millisecond, 10*time.Millisecond),
	}
	if step.BatchSize > 0 {
		opts = append(opts, replicate.WithBatchSize(step.BatchSize))
	}
	if len(step.Docs) > 0 {
		opts = append(opts, replicate.WithDocIDs(step.Docs...))
	}

	r, err := replicate.New(replicate.Config{
		PeerID:      step.From,
		Direction:   replicate.Pull,
		Source:      source.store,
		Target:      target.store,
		Checkpoints: target.tracker,
	}, opts...)
	if err != nil {
		return event, err
	}

	summary, err := r.Replicate(ctx)
	event.Replication = &ReplicationTrace{
		Batches:          summary.Batches,
		ChangesRead:      summary.ChangesRead,
		DocsApplied:      summary.DocsApplied,
		DocsUpToDate:     summary.DocsUpToDate,
		RevisionsApplied: summary.RevisionsApplied,
		Skipped:          len(summary.Skipped),
		Checkpoint:       summary.LastCheckpoint,
	}
	return event, err
}

// documentIDs returns every document id a store has ever seen, sorted.
func documentIDs(ctx context.Context, st *store.Store) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for entry, err := range st.Changes(ctx, 0) {
		if err != nil {
			return nil, err
		}
		if !seen[entry.DocID] {
			seen[entry.DocID] = true
			ids = append(ids, entry.DocID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (h *Harness) storeState(ctx context.Context, name string) (StoreState, error) {
	st := h.replicas[name].store
	state := StoreState{Store: name, Documents: []DocumentState{}}

	ids, err := documentIDs(ctx, st)
	if err != nil {
		return state, fmt.Errorf("list documents of %q: %w", name, err)
	}
	for _, id := range ids {
		leaves, err := st.GetLeafRevisions(ctx, id)
		if err != nil {
			return state, fmt.Errorf("leaves of %q in %q: %w", id, name, err)
		}
		winner, _ := conflict.ResolveWinner(leaves)
		state.Documents = append(state.Documents, DocumentState{
			Doc:        id,
			Leaves:     len(leaves),
			Generation: winner.RevID.Gen,
			Deleted:    winner.Deleted,
			Conflicted: conflict.IsConflicted(leaves),
		})
	}
	return state, nil
}

// treeLeaf is the comparable form of a leaf used for convergence checks.
type treeLeaf struct {
	RevID   string
	Parent  string
	Deleted bool
	Body    string
	Winner  bool
}

func (h *Harness) trees(ctx context.Context, name string) (map[string][]treeLeaf, error) {
	st := h.replicas[name].store
	ids, err := documentIDs(ctx, st)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]treeLeaf, len(ids))
	for _, id := range ids {
		leaves, err := st.GetLeafRevisions(ctx, id)
		if err != nil {
			return nil, err
		}
		winner, _ := conflict.ResolveWinner(leaves)
		tl := make([]treeLeaf, 0, len(leaves))
		for _, l := range leaves {
			body, err := ir.MarshalCanonical(l.Body)
			if err != nil {
				return nil, err
			}
			tl = append(tl, treeLeaf{
				RevID:   l.RevID.String(),
				Parent:  l.Parent.String(),
				Deleted: l.Deleted,
				Body:    string(body),
				Winner:  l.RevID == winner.RevID,
			})
		}
		slices.SortFunc(tl, func(a, b treeLeaf) int {
			return ir.MustParseRevID(a.RevID).Compare(ir.MustParseRevID(b.RevID))
		})
		out[id] = tl
	}
	return out, nil
}

func (h *Harness) checkExpectations(ctx context.Context, exp Expectations, result *Result) error {
	if len(exp.Converged) > 1 {
		base := exp.Converged[0]
		want, err := h.trees(ctx, base)
		if err != nil {
			return fmt.Errorf("read trees of %q: %w", base, err)
		}
		for _, other := range exp.Converged[1:] {
			got, err := h.trees(ctx, other)
			if err != nil {
				return fmt.Errorf("read trees of %q: %w", other, err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				result.AddError(fmt.Sprintf("stores %s and %s diverge (-%s +%s):\n%s", base, other, base, other, diff))
			}
		}
	}

	for _, d := range exp.Documents {
		if err := h.checkDocument(ctx, d, result); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) checkDocument(ctx context.Context, d DocumentExpectation, result *Result) error {
	st := h.replicas[d.Store].store
	prefix := fmt.Sprintf("%s/%s", d.Store, d.Doc)

	leaves, err := st.GetLeafRevisions(ctx, d.Doc)
	if err != nil {
		return fmt.Errorf("leaves of %s: %w", prefix, err)
	}
	if d.Absent {
		if len(leaves) > 0 {
			result.AddError(fmt.Sprintf("%s: expected absent, found %d leaves", prefix, len(leaves)))
		}
		return nil
	}
	winner, ok := conflict.ResolveWinner(leaves)
	if !ok {
		result.AddError(fmt.Sprintf("%s: document not found", prefix))
		return nil
	}

	if d.Leaves != nil && *d.Leaves != len(leaves) {
		result.AddError(fmt.Sprintf("%s: expected %d leaves, got %d", prefix, *d.Leaves, len(leaves)))
	}
	if d.Generation != nil && *d.Generation != winner.RevID.Gen {
		result.AddError(fmt.Sprintf("%s: expected winner generation %d, got %d", prefix, *d.Generation, winner.RevID.Gen))
	}
	if d.Deleted != nil && *d.Deleted != winner.Deleted {
		result.AddError(fmt.Sprintf("%s: expected deleted=%t, got %t", prefix, *d.Deleted, winner.Deleted))
	}
	if d.Conflicted != nil && *d.Conflicted != conflict.IsConflicted(leaves) {
		result.AddError(fmt.Sprintf("%s: expected conflicted=%t", prefix, *d.Conflicted))
	}
	if d.Body != nil {
		want, err := ir.ToIRObject(d.Body)
		if err != nil {
			return fmt.Errorf("%s: expected body: %w", prefix, err)
		}
		if diff := cmp.Diff(want, winner.Body); diff != "" {
			result.AddError(fmt.Sprintf("%s: winner body mismatch (-want +got):\n%s", prefix, diff))
		}
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
