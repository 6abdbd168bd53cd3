package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/revsync/internal/ir"
)

// marshalBody converts a revision body to JSON TEXT for storage. Strings are
// stored exactly as written; NFC normalization applies to digests only.
// A nil body is stored as "{}".
func marshalBody(body ir.IRObject) (string, error) {
	if body == nil {
		body = ir.IRObject{}
	}
	data, err := body.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody parses stored JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which keeps integers above 2^53 exact.
func unmarshalBody(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return obj, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// revisionColumns is the column list scanRevision expects, in order.
var revisionColumns = []string{"seq", "doc_id", "rev_id", "parent_rev", "body", "deleted"}

func scanRevision(row rowScanner) (ir.Revision, error) {
	var (
		rev             ir.Revision
		revID, parentID string
		body            string
		deleted         int
	)
	if err := row.Scan(&rev.Seq, &rev.DocID, &revID, &parentID, &body, &deleted); err != nil {
		return ir.Revision{}, err
	}

	var err error
	if rev.RevID, err = ir.ParseRevID(revID); err != nil {
		return ir.Revision{}, fmt.Errorf("scan revision: %w", err)
	}
	if rev.Parent, err = ir.ParseRevID(parentID); err != nil {
		return ir.Revision{}, fmt.Errorf("scan revision: %w", err)
	}
	if rev.Body, err = unmarshalBody(body); err != nil {
		return ir.Revision{}, fmt.Errorf("scan revision: %w", err)
	}
	rev.Deleted = deleted != 0
	return rev, nil
}

func scanChange(row rowScanner) (ir.ChangeEntry, error) {
	var (
		entry   ir.ChangeEntry
		revID   string
		deleted int
	)
	if err := row.Scan(&entry.Seq, &entry.DocID, &revID, &deleted); err != nil {
		return ir.ChangeEntry{}, err
	}
	var err error
	if entry.RevID, err = ir.ParseRevID(revID); err != nil {
		return ir.ChangeEntry{}, fmt.Errorf("scan change: %w", err)
	}
	entry.Deleted = deleted != 0
	return entry, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// storageError wraps a database failure. Lock contention that outlived the
// busy timeout is reported as TransientIOError so callers may retry.
func storageError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return ir.NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
