package httppeer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/checkpoint"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/replicate"
)

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)

	_, err = NewClient("://nope")
	assert.Error(t, err)
}

func TestClient_ReadOperations(t *testing.T) {
	s := newStore(t, "remote")
	ctx := context.Background()
	root, err := s.CreateDocument(ctx, "doc-1", ir.IRObject{"v": ir.IRInt(1)})
	require.NoError(t, err)
	child, err := s.UpdateDocument(ctx, "doc-1", root.RevID, ir.IRObject{"v": ir.IRInt(2)})
	require.NoError(t, err)

	ts, _ := serve(t, s)
	c := newClient(t, ts)

	changes, err := c.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, child.RevID, changes[1].RevID)

	rev, err := c.GetRevision(ctx, "doc-1", root.RevID)
	require.NoError(t, err)
	assert.Equal(t, root.RevID, rev.RevID)
	assert.Equal(t, ir.IRInt(1), rev.Body["v"])
	assert.True(t, rev.Parent.IsZero())

	leaves, err := c.GetLeafRevisions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, child.RevID, leaves[0].RevID)

	empty, err := c.GetLeafRevisions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	absent := ir.MustParseRevID("9-abc")
	missing, err := c.MissingRevisions(ctx, "doc-1", []ir.RevID{root.RevID, absent})
	require.NoError(t, err)
	assert.Equal(t, []ir.RevID{absent}, missing)

	doc, err := c.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, child.RevID, doc.RevID)
}

func TestClient_ErrorsKeepTheirCode(t *testing.T) {
	s := newStore(t, "remote")
	ts, _ := serve(t, s)
	c := newClient(t, ts)
	ctx := context.Background()

	_, err := c.GetRevision(ctx, "nope", ir.MustParseRevID("1-abc"))
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))

	orphan, err := ir.NewRevision("doc-1", ir.MustParseRevID("1-abc"), ir.IRObject{}, false)
	require.NoError(t, err)
	_, err = c.PutRevisions(ctx, "doc-1", []ir.Revision{orphan})
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTree(err))
	assert.False(t, ir.IsRetryable(err))

	skipped := orphan
	skipped.Parent = ir.RevID{}
	skipped.RevID = ir.MustParseRevID("3-abc")
	_, err = c.PutRevisions(ctx, "doc-1", []ir.Revision{skipped})
	require.Error(t, err)
	assert.True(t, ir.IsStructural(err))
}

func TestClient_PutRevisionsIsIdempotent(t *testing.T) {
	s := newStore(t, "remote")
	ts, _ := serve(t, s)
	c := newClient(t, ts)
	ctx := context.Background()

	root, err := ir.NewRevision("doc-1", ir.RevID{}, ir.IRObject{"v": ir.IRInt(1)}, false)
	require.NoError(t, err)
	next, err := ir.NewRevision("doc-1", root.RevID, ir.IRObject{"v": ir.IRInt(2)}, false)
	require.NoError(t, err)

	n, err := c.PutRevisions(ctx, "doc-1", []ir.Revision{next, root})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.PutRevisions(ctx, "doc-1", []ir.Revision{root, next})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, next.RevID, doc.RevID)
}

func TestClient_CachesRevisions(t *testing.T) {
	s := newStore(t, "remote")
	ctx := context.Background()
	root, err := s.CreateDocument(ctx, "doc-1", ir.IRObject{"v": ir.IRInt(1)})
	require.NoError(t, err)

	ts, counts := serve(t, s)
	c := newClient(t, ts)

	first, err := c.GetRevision(ctx, "doc-1", root.RevID)
	require.NoError(t, err)
	first.Body["v"] = ir.IRInt(99)

	second, err := c.GetRevision(ctx, "doc-1", root.RevID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(1), second.Body["v"], "cached bodies are not shared with callers")
	assert.Equal(t, int64(1), counts["/_revision"].Load())
}

func TestClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[],"last_seq":0}`))
	}))
	defer ts.Close()

	c := newClient(t, ts)
	changes, err := c.ChangesSince(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_ExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	_, err := c.ChangesSince(context.Background(), 0, 10)
	require.Error(t, err)
	assert.True(t, ir.IsTransient(err))
	assert.Equal(t, int64(3), calls.Load(), "one attempt plus two retries")
}

func TestClient_UnreachablePeerIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := NewClient(url, WithRetries(0, time.Millisecond, time.Millisecond), WithClientLogger(quietLogger))
	require.NoError(t, err)

	_, err = c.ChangesSince(context.Background(), 0, 10)
	require.Error(t, err)
	assert.True(t, ir.IsTransient(err))
}

func TestReplicateOverHTTP(t *testing.T) {
	ctx := context.Background()
	remote := newStore(t, "remote")
	local := newStore(t, "local")

	a, err := remote.CreateDocument(ctx, "a", ir.IRObject{"n": ir.IRInt(1)})
	require.NoError(t, err)
	_, err = remote.UpdateDocument(ctx, "a", a.RevID, ir.IRObject{"n": ir.IRInt(2)})
	require.NoError(t, err)
	_, err = remote.CreateDocument(ctx, "b", ir.IRObject{"n": ir.IRInt(3)})
	require.NoError(t, err)
	_, err = local.CreateDocument(ctx, "c", ir.IRObject{"n": ir.IRInt(4)})
	require.NoError(t, err)

	ts, _ := serve(t, remote)
	peer := newClient(t, ts)

	tracker, err := checkpoint.New(local.DB())
	require.NoError(t, err)

	opts := []replicate.Option{
		replicate.WithLogger(quietLogger),
		replicate.WithBackoff(time.Millisecond, 5*time.Millisecond),
	}
	pull, err := replicate.New(replicate.Config{
		PeerID: "remote", Direction: replicate.Pull,
		Source: peer, Target: local, Checkpoints: tracker,
	}, opts...)
	require.NoError(t, err)
	push, err := replicate.New(replicate.Config{
		PeerID: "remote", Direction: replicate.Push,
		Source: local, Target: peer, Checkpoints: tracker,
	}, opts...)
	require.NoError(t, err)

	pullSummary, pushSummary, err := replicate.Bidirectional(ctx, pull, push)
	require.NoError(t, err)
	assert.Empty(t, pullSummary.Skipped)
	assert.Empty(t, pushSummary.Skipped)

	// A second pass settles anything the concurrent directions raced on.
	_, _, err = replicate.Bidirectional(ctx, pull, push)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		want, err := remote.GetDocument(ctx, id)
		require.NoError(t, err, id)
		got, err := local.GetDocument(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want.RevID, got.RevID, id)
		assert.Equal(t, want.Body, got.Body, id)
	}
	assert.Equal(t, replicate.StateIdle, pull.State())
}
