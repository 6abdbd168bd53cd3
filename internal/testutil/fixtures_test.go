package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
)

func TestBody(t *testing.T) {
	body := Body(t, "name", "alice", "age", 30, "tags", []any{"a", "b"})
	assert.Equal(t, ir.IRString("alice"), body["name"])
	assert.Equal(t, ir.IRInt(30), body["age"])
	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRString("b")}, body["tags"])

	assert.Empty(t, Body(t))
}

func TestStoreFixtures(t *testing.T) {
	s, path := OpenStore(t, "fixture")
	assert.FileExists(t, path)

	root := Create(t, s, "d1", Body(t, "v", 1))
	child := Update(t, s, "d1", root.RevID, Body(t, "v", 2))
	assert.Equal(t, int64(2), child.RevID.Gen)

	tr := NewTracker(t, s)
	require.NoError(t, tr.SetCheckpoint(context.Background(), "peer/pull", 2))
	seq, err := tr.GetCheckpoint(context.Background(), "peer/pull")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}
