package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/revsync/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreate creates a document or fails the test.
func mustCreate(t *testing.T, s *Store, docID string, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.CreateDocument(context.Background(), docID, body)
	if err != nil {
		t.Fatalf("CreateDocument(%q) failed: %v", docID, err)
	}
	return rev
}

// mustUpdate updates a document or fails the test.
func mustUpdate(t *testing.T, s *Store, docID string, parent ir.RevID, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.UpdateDocument(context.Background(), docID, parent, body)
	if err != nil {
		t.Fatalf("UpdateDocument(%q) failed: %v", docID, err)
	}
	return rev
}

// foreignRevision builds a revision as another replica would have written it.
func foreignRevision(t *testing.T, docID string, parent ir.RevID, body ir.IRObject, deleted bool) ir.Revision {
	t.Helper()
	rev, err := ir.NewRevision(docID, parent, body, deleted)
	if err != nil {
		t.Fatalf("NewRevision failed: %v", err)
	}
	return rev
}

func revStrings(revs []ir.Revision) []string {
	out := make([]string, 0, len(revs))
	for _, r := range revs {
		out = append(out, r.RevID.String())
	}
	return out
}
