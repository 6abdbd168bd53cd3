// Package testutil provides shared fixtures for tests that need real stores.
//
// It must not be imported by the store or checkpoint packages' own tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/checkpoint"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/store"
)

// QuietLogger discards everything.
var QuietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// OpenStore opens a store named name under t.TempDir and closes it on
// cleanup. It returns the store and its database path.
func OpenStore(t testing.TB, name string) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// NewStore is OpenStore without the path.
func NewStore(t testing.TB, name string) *store.Store {
	t.Helper()
	s, _ := OpenStore(t, name)
	return s
}

// NewTracker returns a checkpoint tracker sharing s's database.
func NewTracker(t testing.TB, s *store.Store) *checkpoint.Tracker {
	t.Helper()
	tr, err := checkpoint.New(s.DB())
	require.NoError(t, err)
	return tr
}

// Body builds a document body from alternating keys and values.
func Body(t testing.TB, kv ...any) ir.IRObject {
	t.Helper()
	require.True(t, len(kv)%2 == 0, "Body needs key/value pairs")
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		require.True(t, ok, "key %v is not a string", kv[i])
		m[key] = kv[i+1]
	}
	obj, err := ir.ToIRObject(m)
	require.NoError(t, err)
	return obj
}

// Create writes a new document and returns its first revision.
func Create(t testing.TB, s *store.Store, docID string, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.CreateDocument(context.Background(), docID, body)
	require.NoError(t, err)
	return rev
}

// Update writes a child of parent.
func Update(t testing.TB, s *store.Store, docID string, parent ir.RevID, body ir.IRObject) ir.Revision {
	t.Helper()
	rev, err := s.UpdateDocument(context.Background(), docID, parent, body)
	require.NoError(t, err)
	return rev
}
