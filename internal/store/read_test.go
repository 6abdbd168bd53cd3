package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
)

func TestGetRevision_NotFound(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, "doc-1", ir.IRObject{})

	_, err := s.GetRevision(context.Background(), "doc-1", ir.MustParseRevID("9-nothere"))
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))

	_, err = s.GetRevision(context.Background(), "missing", ir.MustParseRevID("1-x"))
	assert.True(t, ir.IsNotFound(err))
}

func TestGetLeafRevisions_UnknownDocumentIsEmpty(t *testing.T) {
	s := createTestStore(t)

	leaves, err := s.GetLeafRevisions(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestMissingRevisions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := mustCreate(t, s, "doc-1", ir.IRObject{"v": ir.IRInt(1)})
	child := mustUpdate(t, s, "doc-1", root.RevID, ir.IRObject{"v": ir.IRInt(2)})
	absent := ir.MustParseRevID("3-abc")

	missing, err := s.MissingRevisions(ctx, "doc-1", []ir.RevID{root.RevID, absent, child.RevID, absent})
	require.NoError(t, err)
	assert.Equal(t, []ir.RevID{absent}, missing)

	missing, err = s.MissingRevisions(ctx, "other", []ir.RevID{root.RevID})
	require.NoError(t, err)
	assert.Equal(t, []ir.RevID{root.RevID}, missing, "revisions are scoped to their document")

	missing, err = s.MissingRevisions(ctx, "doc-1", nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestGetDocuments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a", ir.IRObject{"n": ir.IRInt(1)})
	b := mustCreate(t, s, "b", ir.IRObject{"n": ir.IRInt(2)})
	c := mustCreate(t, s, "c", ir.IRObject{"n": ir.IRInt(3)})
	_, err := s.DeleteDocument(ctx, "c", c.RevID)
	require.NoError(t, err)

	docs, err := s.GetDocuments(ctx, []string{"b", "missing", "c", "a"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.RevID, docs[0].RevID)
	assert.Equal(t, a.RevID, docs[1].RevID)
	assert.Equal(t, ir.IRInt(2), docs[0].Body["n"])
}

func TestAllDocuments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"d", "b", "a", "e", "c"} {
		mustCreate(t, s, id, ir.IRObject{"id": ir.IRString(id)})
	}
	e, err := s.GetDocument(ctx, "e")
	require.NoError(t, err)
	_, err = s.DeleteDocument(ctx, "e", e.RevID)
	require.NoError(t, err)

	ids := func(docs []ir.Revision) []string {
		out := []string{}
		for _, d := range docs {
			out = append(out, d.DocID)
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all", ListOptions{}, []string{"a", "b", "c", "d"}},
		{"descending", ListOptions{Descending: true}, []string{"d", "c", "b", "a"}},
		{"limit", ListOptions{Limit: 2}, []string{"a", "b"}},
		{"offset", ListOptions{Offset: 3}, []string{"d"}},
		{"page", ListOptions{Offset: 1, Limit: 2, Descending: true}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.AllDocuments(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}

	n, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestChangesSince(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a", ir.IRObject{})
	b := mustCreate(t, s, "b", ir.IRObject{})
	a2 := mustUpdate(t, s, "a", a.RevID, ir.IRObject{"v": ir.IRInt(2)})
	del, err := s.DeleteDocument(ctx, "b", b.RevID)
	require.NoError(t, err)

	all, err := s.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.ChangeEntry{
		{Seq: 1, DocID: "a", RevID: a.RevID},
		{Seq: 2, DocID: "b", RevID: b.RevID},
		{Seq: 3, DocID: "a", RevID: a2.RevID},
		{Seq: 4, DocID: "b", RevID: del.RevID, Deleted: true},
	}, all)

	tail, err := s.ChangesSince(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Seq)

	limited, err := s.ChangesSince(ctx, 0, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	end, err := s.ChangesSince(ctx, 4, 0)
	require.NoError(t, err)
	assert.Empty(t, end)

	last, err := s.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func TestChanges_PagedAndRestartable(t *testing.T) {
	s := createTestStore(t, WithPageSize(3))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mustCreate(t, s, fmt.Sprintf("doc-%02d", i), ir.IRObject{"i": ir.IRInt(int64(i))})
	}

	var seqs []int64
	for entry, err := range s.Changes(ctx, 0) {
		require.NoError(t, err)
		seqs = append(seqs, entry.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)

	// Resume from an already observed sequence.
	seqs = nil
	for entry, err := range s.Changes(ctx, 7) {
		require.NoError(t, err)
		seqs = append(seqs, entry.Seq)
	}
	assert.Equal(t, []int64{8, 9, 10}, seqs)
}

func TestChanges_ConsumerMayWrite(t *testing.T) {
	s := createTestStore(t, WithPageSize(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		mustCreate(t, s, fmt.Sprintf("doc-%d", i), ir.IRObject{})
	}

	seen := 0
	for entry, err := range s.Changes(ctx, 0) {
		require.NoError(t, err)
		seen++
		if entry.Seq == 1 {
			// Writing mid-iteration must not deadlock on the single connection.
			mustCreate(t, s, "late", ir.IRObject{})
		}
		if seen > 10 {
			t.Fatal("feed did not terminate")
		}
	}
	assert.Equal(t, 5, seen, "entries written during iteration are picked up by later pages")
}

func TestChanges_StopsEarly(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 3; i++ {
		mustCreate(t, s, fmt.Sprintf("doc-%d", i), ir.IRObject{})
	}

	count := 0
	for range s.Changes(context.Background(), 0) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestChanges_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, "doc", ir.IRObject{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range s.Changes(ctx, 0) {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.False(t, ir.IsRetryable(gotErr))
}
