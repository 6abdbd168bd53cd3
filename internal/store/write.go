package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/revsync/internal/conflict"
	"github.com/roach88/revsync/internal/ir"
)

// CreateDocument writes the first revision of a document.
//
// An empty docID is replaced by a generated UUIDv7. Creating over a live
// document fails with ConflictError. Creating over a deleted document extends
// its winning tombstone, so the new revision supersedes it on every replica.
func (s *Store) CreateDocument(ctx context.Context, docID string, body ir.IRObject) (ir.Revision, error) {
	if docID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return ir.Revision{}, fmt.Errorf("create document: generate id: %w", err)
		}
		docID = id.String()
	}

	unlock := s.locks.lock(docID)
	defer unlock()

	var rev ir.Revision
	err := s.withTx(ctx, "create document", func(tx *sql.Tx) error {
		winner, found, err := loadWinner(ctx, tx, docID)
		if err != nil {
			return err
		}

		var parent ir.RevID
		if found {
			if !winner.deleted {
				return ir.NewConflictError(docID, winner.revID.String(), "document already exists")
			}
			parent = winner.revID
		}

		rev, err = newLocalRevision(docID, parent, body, false)
		if err != nil {
			return err
		}
		if err := insertRevision(ctx, tx, &rev); err != nil {
			return err
		}
		_, err = refreshDocument(ctx, tx, docID)
		return err
	})
	if err != nil {
		return ir.Revision{}, err
	}
	return rev, nil
}

// UpdateDocument writes body as a child of parent. parent must be the
// document's current winning revision, otherwise ConflictError is returned
// and nothing is written.
func (s *Store) UpdateDocument(ctx context.Context, docID string, parent ir.RevID, body ir.IRObject) (ir.Revision, error) {
	return s.writeChild(ctx, "update document", docID, parent, body, false)
}

// DeleteDocument writes a tombstone as a child of parent, under the same
// concurrency contract as UpdateDocument.
func (s *Store) DeleteDocument(ctx context.Context, docID string, parent ir.RevID) (ir.Revision, error) {
	return s.writeChild(ctx, "delete document", docID, parent, ir.IRObject{}, true)
}

func (s *Store) writeChild(ctx context.Context, op, docID string, parent ir.RevID, body ir.IRObject, deleted bool) (ir.Revision, error) {
	unlock := s.locks.lock(docID)
	defer unlock()

	var rev ir.Revision
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		winner, found, err := loadWinner(ctx, tx, docID)
		if err != nil {
			return err
		}
		if !found {
			return ir.NewNotFoundError(docID, "", "document not found")
		}
		if winner.deleted {
			return ir.NewNotFoundError(docID, winner.revID.String(), "document is deleted")
		}
		if parent != winner.revID {
			return ir.NewConflictError(docID, parent.String(), "parent revision is not the current winner")
		}

		rev, err = newLocalRevision(docID, parent, body, deleted)
		if err != nil {
			return err
		}
		if err := insertRevision(ctx, tx, &rev); err != nil {
			return err
		}
		_, err = refreshDocument(ctx, tx, docID)
		return err
	})
	if err != nil {
		return ir.Revision{}, err
	}
	return rev, nil
}

// PutRevision inserts a revision with a known id, without the optimistic
// concurrency check. This is how foreign branches enter the tree.
//
// Inserting a revision that is already present is a no-op success.
// A parent absent from the tree fails with InvalidTreeError.
func (s *Store) PutRevision(ctx context.Context, rev ir.Revision) error {
	if rev.DocID == "" {
		return ir.NewStructuralError("", rev.RevID.String(), "revision has no document id")
	}
	_, err := s.PutRevisions(ctx, rev.DocID, []ir.Revision{rev})
	return err
}

// PutRevisions inserts several revisions of one document in a single
// transaction: either all new revisions are applied or none are. Input order
// does not matter; revisions are applied parents first. A revision may name
// a parent supplied in the same call.
//
// Returns the number of revisions that were not already present.
func (s *Store) PutRevisions(ctx context.Context, docID string, revs []ir.Revision) (int, error) {
	if len(revs) == 0 {
		return 0, nil
	}
	if docID == "" {
		return 0, ir.NewStructuralError("", "", "revisions have no document id")
	}

	ordered := make([]ir.Revision, len(revs))
	for i, rev := range revs {
		if rev.DocID == "" {
			rev.DocID = docID
		}
		if rev.DocID != docID {
			return 0, ir.NewStructuralError(docID, rev.RevID.String(),
				fmt.Sprintf("revision belongs to document %q", rev.DocID))
		}
		if err := validateRevision(rev); err != nil {
			return 0, err
		}
		ordered[i] = rev
	}
	slices.SortStableFunc(ordered, func(a, b ir.Revision) int {
		return cmp.Compare(a.RevID.Gen, b.RevID.Gen)
	})

	unlock := s.locks.lock(docID)
	defer unlock()

	inserted := 0
	err := s.withTx(ctx, "put revisions", func(tx *sql.Tx) error {
		for i := range ordered {
			rev := &ordered[i]

			exists, err := revisionExists(ctx, tx, docID, rev.RevID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			if !rev.Parent.IsZero() {
				parentExists, err := revisionExists(ctx, tx, docID, rev.Parent)
				if err != nil {
					return err
				}
				if !parentExists {
					return ir.NewInvalidTreeError(docID, rev.RevID.String(), rev.Parent.String())
				}
			}

			if err := insertRevision(ctx, tx, rev); err != nil {
				return err
			}
			inserted++
		}

		if inserted == 0 {
			return nil
		}
		_, err := refreshDocument(ctx, tx, docID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ResolveConflicts merges a conflicted document. The resolver receives every
// non-deleted leaf; its body is written as a child of the current winner and
// every other live leaf is closed with a tombstone, atomically.
//
// Returns the new winning revision. When the document has fewer than two live
// leaves, or the resolver returns nil, nothing is written and the current
// winner is returned.
func (s *Store) ResolveConflicts(ctx context.Context, docID string, resolver conflict.Resolver) (ir.Revision, error) {
	unlock := s.locks.lock(docID)
	defer unlock()

	var result ir.Revision
	err := s.withTx(ctx, "resolve conflicts", func(tx *sql.Tx) error {
		leaves, err := loadLeaves(ctx, tx, docID)
		if err != nil {
			return err
		}
		winner, ok := conflict.ResolveWinner(leaves)
		if !ok {
			return ir.NewNotFoundError(docID, "", "document not found")
		}
		result = winner

		live := conflict.Live(leaves)
		if len(live) < 2 {
			return nil
		}
		body := resolver.Resolve(docID, live)
		if body == nil {
			return nil
		}

		merged, err := newLocalRevision(docID, winner.RevID, body, false)
		if err != nil {
			return err
		}
		if err := insertRevision(ctx, tx, &merged); err != nil {
			return err
		}

		for _, leaf := range live {
			if leaf.RevID == winner.RevID {
				continue
			}
			tomb, err := newLocalRevision(docID, leaf.RevID, ir.IRObject{}, true)
			if err != nil {
				return err
			}
			if err := insertRevision(ctx, tx, &tomb); err != nil {
				return err
			}
		}

		if _, err := refreshDocument(ctx, tx, docID); err != nil {
			return err
		}
		result = merged
		return nil
	})
	if err != nil {
		return ir.Revision{}, err
	}
	return result, nil
}

// withTx runs fn inside a transaction and commits if fn succeeds.
// Domain errors returned by fn pass through unwrapped.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(op+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError(op+": commit", err)
	}
	return nil
}

// newLocalRevision computes a child revision of parent. A body that cannot
// be canonicalized is a StructuralError.
func newLocalRevision(docID string, parent ir.RevID, body ir.IRObject, deleted bool) (ir.Revision, error) {
	if body == nil {
		body = ir.IRObject{}
	}
	rev, err := ir.NewRevision(docID, parent, body, deleted)
	if err != nil {
		return ir.Revision{}, ir.NewStructuralError(docID, "", "malformed body: "+err.Error())
	}
	return rev, nil
}

// validateRevision checks that a foreign revision is well formed. The digest
// is not recomputed: peers may derive revision ids with their own stable hash.
func validateRevision(rev ir.Revision) error {
	if !rev.RevID.Valid() {
		return ir.NewStructuralError(rev.DocID, rev.RevID.String(), "invalid revision id")
	}
	if !rev.Parent.IsZero() && !rev.Parent.Valid() {
		return ir.NewStructuralError(rev.DocID, rev.RevID.String(), "invalid parent revision id")
	}
	if rev.RevID.Gen != rev.Parent.Gen+1 {
		return ir.NewStructuralError(rev.DocID, rev.RevID.String(), "generation must be parent generation + 1")
	}
	if _, err := ir.MarshalCanonical(rev.Body); err != nil {
		return ir.NewStructuralError(rev.DocID, rev.RevID.String(), "malformed body: "+err.Error())
	}
	return nil
}

type winnerState struct {
	revID   ir.RevID
	deleted bool
}

func loadWinner(ctx context.Context, tx *sql.Tx, docID string) (winnerState, bool, error) {
	var (
		revID   string
		deleted int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT winning_rev, deleted FROM documents WHERE doc_id = ?
	`, docID).Scan(&revID, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return winnerState{}, false, nil
	}
	if err != nil {
		return winnerState{}, false, storageError("load winner", err)
	}
	parsed, err := ir.ParseRevID(revID)
	if err != nil {
		return winnerState{}, false, fmt.Errorf("load winner: %w", err)
	}
	return winnerState{revID: parsed, deleted: deleted != 0}, true, nil
}

func revisionExists(ctx context.Context, tx *sql.Tx, docID string, revID ir.RevID) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM revisions WHERE doc_id = ? AND rev_id = ?
	`, docID, revID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError("lookup revision", err)
	}
	return true, nil
}

// insertRevision appends rev to the arena, closes its parent as a leaf and
// sets rev.Seq to the newly assigned sequence.
func insertRevision(ctx context.Context, tx *sql.Tx, rev *ir.Revision) error {
	body, err := marshalBody(rev.Body)
	if err != nil {
		return ir.NewStructuralError(rev.DocID, rev.RevID.String(), err.Error())
	}

	if !rev.Parent.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE revisions SET is_leaf = 0 WHERE doc_id = ? AND rev_id = ?
		`, rev.DocID, rev.Parent.String()); err != nil {
			return storageError("close parent leaf", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO revisions
		(doc_id, rev_id, generation, digest, parent_rev, body, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rev.DocID,
		rev.RevID.String(),
		rev.RevID.Gen,
		rev.RevID.Digest,
		rev.Parent.String(),
		body,
		boolInt(rev.Deleted),
	)
	if err != nil {
		return storageError("insert revision", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return storageError("insert revision: last insert id", err)
	}
	rev.Seq = seq
	return nil
}

// refreshDocument recomputes the winner from the current leaf set and
// rewrites the document summary row.
func refreshDocument(ctx context.Context, tx *sql.Tx, docID string) (ir.Revision, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT rev_id, deleted FROM revisions
		WHERE doc_id = ? AND is_leaf = 1
	`, docID)
	if err != nil {
		return ir.Revision{}, storageError("query leaves", err)
	}

	var leaves []ir.Revision
	for rows.Next() {
		var (
			revID   string
			deleted int
		)
		if err := rows.Scan(&revID, &deleted); err != nil {
			rows.Close()
			return ir.Revision{}, storageError("scan leaf", err)
		}
		parsed, err := ir.ParseRevID(revID)
		if err != nil {
			rows.Close()
			return ir.Revision{}, fmt.Errorf("scan leaf: %w", err)
		}
		leaves = append(leaves, ir.Revision{DocID: docID, RevID: parsed, Deleted: deleted != 0})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ir.Revision{}, storageError("iterate leaves", err)
	}
	rows.Close()

	winner, ok := conflict.ResolveWinner(leaves)
	if !ok {
		return ir.Revision{}, fmt.Errorf("refresh document %q: no leaves", docID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, winning_rev, deleted, conflicted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			winning_rev = excluded.winning_rev,
			deleted = excluded.deleted,
			conflicted = excluded.conflicted
	`,
		docID,
		winner.RevID.String(),
		boolInt(winner.Deleted),
		boolInt(conflict.IsConflicted(leaves)),
	)
	if err != nil {
		return ir.Revision{}, storageError("update document", err)
	}
	return winner, nil
}
