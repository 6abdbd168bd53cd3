// Package checkpoint records, per remote peer, the last source sequence
// whose changes are durably applied locally.
//
// Checkpoints only move forward. Replication commits a checkpoint after the
// batch it covers is committed, and the tracker shares the revision store's
// database, so a checkpoint is never visible before the revisions below it.
package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/roach88/revsync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Tracker stores checkpoints in a SQLite table.
type Tracker struct {
	db *sql.DB
}

// New creates the checkpoint table if needed and returns a tracker over db.
func New(db *sql.DB) (*Tracker, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("apply checkpoint schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

// GetCheckpoint returns the last sequence recorded for peerID, or 0 if the
// peer was never replicated.
func (t *Tracker) GetCheckpoint(ctx context.Context, peerID string) (int64, error) {
	var seq int64
	err := t.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM checkpoints WHERE peer_id = ?
	`, peerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint %q: %w", peerID, err)
	}
	return seq, nil
}

// SetCheckpoint records seq for peerID. A value lower than the stored one
// fails with RegressionError and leaves the checkpoint unchanged; the same
// value is accepted as a no-op.
func (t *Tracker) SetCheckpoint(ctx context.Context, peerID string, seq int64) error {
	if seq < 0 {
		return ir.NewRegressionError(peerID, 0, seq)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set checkpoint %q: begin tx: %w", peerID, err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM checkpoints WHERE peer_id = ?
	`, peerID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("set checkpoint %q: read current: %w", peerID, err)
	}
	if seq < current {
		return ir.NewRegressionError(peerID, current, seq)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (peer_id, last_sequence) VALUES (?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET last_sequence = excluded.last_sequence
	`, peerID, seq)
	if err != nil {
		return fmt.Errorf("set checkpoint %q: %w", peerID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set checkpoint %q: commit: %w", peerID, err)
	}
	return nil
}

// List returns every recorded checkpoint ordered by peer id.
func (t *Tracker) List(ctx context.Context) ([]ir.Checkpoint, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT peer_id, last_sequence FROM checkpoints
		ORDER BY peer_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []ir.Checkpoint{}
	for rows.Next() {
		var cp ir.Checkpoint
		if err := rows.Scan(&cp.PeerID, &cp.LastSequence); err != nil {
			return nil, fmt.Errorf("list checkpoints: scan: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: iterate: %w", err)
	}
	return checkpoints, nil
}

// Reset forgets the checkpoint for peerID so the next replication starts
// from the beginning of the peer's feed. Used when a peer's database was
// recreated and its sequences restarted.
func (t *Tracker) Reset(ctx context.Context, peerID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE peer_id = ?`, peerID); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", peerID, err)
	}
	return nil
}
