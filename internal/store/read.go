package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/revsync/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetRevision returns one revision of a document, winning or not.
// Returns NotFoundError if the document has no such revision.
func (s *Store) GetRevision(ctx context.Context, docID string, revID ir.RevID) (ir.Revision, error) {
	query, args, err := sq.Select(revisionColumns...).
		From("revisions").
		Where(sq.Eq{"doc_id": docID, "rev_id": revID.String()}).
		ToSql()
	if err != nil {
		return ir.Revision{}, fmt.Errorf("get revision: build query: %w", err)
	}

	rev, err := scanRevision(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Revision{}, ir.NewNotFoundError(docID, revID.String(), "revision not found")
	}
	if err != nil {
		return ir.Revision{}, storageError("get revision", err)
	}
	return rev, nil
}

// GetLeafRevisions returns every leaf of a document's tree, tombstones
// included, ordered by revision id. An unknown document has no leaves.
func (s *Store) GetLeafRevisions(ctx context.Context, docID string) ([]ir.Revision, error) {
	return loadLeaves(ctx, s.db, docID)
}

// MissingRevisions returns the subset of revIDs this store does not hold for
// docID, in input order without duplicates.
func (s *Store) MissingRevisions(ctx context.Context, docID string, revIDs []ir.RevID) ([]ir.RevID, error) {
	if len(revIDs) == 0 {
		return []ir.RevID{}, nil
	}

	ids := make([]string, 0, len(revIDs))
	for _, r := range revIDs {
		ids = append(ids, r.String())
	}

	query, args, err := sq.Select("rev_id").
		From("revisions").
		Where(sq.Eq{"doc_id": docID, "rev_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("missing revisions: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("missing revisions", err)
	}
	defer rows.Close()

	present := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError("missing revisions: scan", err)
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("missing revisions: iterate", err)
	}

	missing := []ir.RevID{}
	for _, r := range revIDs {
		key := r.String()
		if present[key] {
			continue
		}
		present[key] = true
		missing = append(missing, r)
	}
	return missing, nil
}

// GetDocument returns the winning revision of a live document.
// Unknown and deleted documents return NotFoundError.
func (s *Store) GetDocument(ctx context.Context, docID string) (ir.Revision, error) {
	docs, err := s.queryWinners(ctx, winnersQuery().Where(sq.Eq{"d.doc_id": docID}))
	if err != nil {
		return ir.Revision{}, fmt.Errorf("get document: %w", err)
	}
	if len(docs) == 0 {
		return ir.Revision{}, ir.NewNotFoundError(docID, "", "document not found")
	}
	if docs[0].Deleted {
		return ir.Revision{}, ir.NewNotFoundError(docID, docs[0].RevID.String(), "document is deleted")
	}
	return docs[0], nil
}

// GetDocuments returns the winners of the live documents among ids, in the
// order requested. Unknown and deleted ids are omitted.
func (s *Store) GetDocuments(ctx context.Context, ids []string) ([]ir.Revision, error) {
	if len(ids) == 0 {
		return []ir.Revision{}, nil
	}

	docs, err := s.queryWinners(ctx, winnersQuery().Where(sq.Eq{"d.doc_id": ids, "d.deleted": 0}))
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}

	byID := make(map[string]ir.Revision, len(docs))
	for _, d := range docs {
		byID[d.DocID] = d
	}
	result := make([]ir.Revision, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			result = append(result, d)
			delete(byID, id)
		}
	}
	return result, nil
}

// ListOptions pages AllDocuments. Limit <= 0 means no limit.
type ListOptions struct {
	Offset     int
	Limit      int
	Descending bool
}

// AllDocuments returns the winners of live documents ordered by document id.
func (s *Store) AllDocuments(ctx context.Context, opts ListOptions) ([]ir.Revision, error) {
	order := "d.doc_id ASC"
	if opts.Descending {
		order = "d.doc_id DESC"
	}
	q := winnersQuery().Where(sq.Eq{"d.deleted": 0}).OrderBy(order)

	// SQLite rejects OFFSET without LIMIT.
	switch {
	case opts.Limit > 0:
		q = q.Limit(uint64(opts.Limit))
	case opts.Offset > 0:
		q = q.Limit(math.MaxInt64)
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}

	docs, err := s.queryWinners(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("all documents: %w", err)
	}
	return docs, nil
}

// DocumentCount returns the number of live documents.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE deleted = 0`).Scan(&n)
	if err != nil {
		return 0, storageError("document count", err)
	}
	return n, nil
}

// Conflicts returns every non-deleted leaf of a document, winner included.
// A document without conflicts yields its winner alone.
func (s *Store) Conflicts(ctx context.Context, docID string) ([]ir.Revision, error) {
	leaves, err := loadLeaves(ctx, s.db, docID)
	if err != nil {
		return nil, err
	}
	live := make([]ir.Revision, 0, len(leaves))
	for _, leaf := range leaves {
		if !leaf.Deleted {
			live = append(live, leaf)
		}
	}
	return live, nil
}

// ConflictedDocumentIDs returns the ids of documents with more than one live
// leaf, in ascending order.
func (s *Store) ConflictedDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id FROM documents
		WHERE conflicted = 1
		ORDER BY doc_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, storageError("conflicted documents", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError("conflicted documents: scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("conflicted documents: iterate", err)
	}
	return ids, nil
}

// LastSequence returns the highest sequence assigned so far, or 0 for an
// empty store. Sequences are never reused, so this only grows.
func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM revisions`).Scan(&seq); err != nil {
		return 0, storageError("last sequence", err)
	}
	return seq.Int64, nil
}

// ChangesSince returns up to limit change entries with sequence greater than
// since, in ascending sequence order. limit <= 0 returns everything.
func (s *Store) ChangesSince(ctx context.Context, since int64, limit int) ([]ir.ChangeEntry, error) {
	q := sq.Select("seq", "doc_id", "rev_id", "deleted").
		From("revisions").
		Where(sq.Gt{"seq": since}).
		OrderBy("seq ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("changes since: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("changes since", err)
	}
	defer rows.Close()

	entries := []ir.ChangeEntry{}
	for rows.Next() {
		entry, err := scanChange(rows)
		if err != nil {
			return nil, storageError("changes since: scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("changes since: iterate", err)
	}
	return entries, nil
}

// Changes lazily yields the change feed after since, one page per query,
// and stops at the end of the feed as it stood when the last page was read.
// No rows are held open while the consumer runs, so the consumer may write
// to the store. Iteration stops at the first error, which is yielded.
func (s *Store) Changes(ctx context.Context, since int64) iter.Seq2[ir.ChangeEntry, error] {
	return func(yield func(ir.ChangeEntry, error) bool) {
		cursor := since
		for {
			page, err := s.ChangesSince(ctx, cursor, s.pageSize)
			if err != nil {
				yield(ir.ChangeEntry{}, err)
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
				cursor = entry.Seq
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// winnersQuery selects the winning revision of each document.
func winnersQuery() sq.SelectBuilder {
	cols := make([]string, 0, len(revisionColumns))
	for _, c := range revisionColumns {
		cols = append(cols, "r."+c)
	}
	return sq.Select(cols...).
		From("documents d").
		Join("revisions r ON r.doc_id = d.doc_id AND r.rev_id = d.winning_rev")
}

func (s *Store) queryWinners(ctx context.Context, q sq.SelectBuilder) ([]ir.Revision, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("query winners", err)
	}
	defer rows.Close()

	docs := []ir.Revision{}
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, storageError("scan winner", err)
		}
		docs = append(docs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate winners", err)
	}
	return docs, nil
}

// loadLeaves returns the full leaf revisions of a document ordered by
// (generation, digest).
func loadLeaves(ctx context.Context, q querier, docID string) ([]ir.Revision, error) {
	query, args, err := sq.Select(revisionColumns...).
		From("revisions").
		Where(sq.Eq{"doc_id": docID, "is_leaf": 1}).
		OrderBy("generation ASC", "digest ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("load leaves: build query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("load leaves", err)
	}
	defer rows.Close()

	leaves := []ir.Revision{}
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, storageError("load leaves: scan", err)
		}
		leaves = append(leaves, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("load leaves: iterate", err)
	}
	return leaves, nil
}
