package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
)

func leaf(rev string, deleted bool) ir.Revision {
	return ir.Revision{DocID: "doc", RevID: ir.MustParseRevID(rev), Deleted: deleted}
}

// permutations returns every ordering of revs.
func permutations(revs []ir.Revision) [][]ir.Revision {
	if len(revs) <= 1 {
		return [][]ir.Revision{append([]ir.Revision(nil), revs...)}
	}
	var out [][]ir.Revision
	for i := range revs {
		rest := make([]ir.Revision, 0, len(revs)-1)
		rest = append(rest, revs[:i]...)
		rest = append(rest, revs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]ir.Revision{revs[i]}, p...))
		}
	}
	return out
}

func TestResolveWinnerHighestGeneration(t *testing.T) {
	winner, ok := ResolveWinner([]ir.Revision{leaf("2-fff", false), leaf("3-aaa", false), leaf("1-zzz", false)})
	require.True(t, ok)
	assert.Equal(t, "3-aaa", winner.RevID.String())
}

func TestResolveWinnerDigestTieBreak(t *testing.T) {
	winner, ok := ResolveWinner([]ir.Revision{leaf("2-abc", false), leaf("2-abd", false)})
	require.True(t, ok)
	assert.Equal(t, "2-abd", winner.RevID.String())
}

func TestResolveWinnerPrefersLiveLeaves(t *testing.T) {
	winner, ok := ResolveWinner([]ir.Revision{leaf("4-zzz", true), leaf("2-aaa", false)})
	require.True(t, ok)
	assert.Equal(t, "2-aaa", winner.RevID.String())
}

func TestResolveWinnerAllDeleted(t *testing.T) {
	winner, ok := ResolveWinner([]ir.Revision{leaf("3-aaa", true), leaf("3-bbb", true), leaf("2-ccc", true)})
	require.True(t, ok)
	assert.Equal(t, "3-bbb", winner.RevID.String())
	assert.True(t, winner.Deleted)
}

func TestResolveWinnerEmpty(t *testing.T) {
	_, ok := ResolveWinner(nil)
	assert.False(t, ok)
}

func TestResolveWinnerOrderIndependent(t *testing.T) {
	sets := [][]ir.Revision{
		{leaf("2-a1", false), leaf("2-b2", false), leaf("2-b1", false), leaf("1-ff", false)},
		{leaf("3-aa", true), leaf("2-zz", false), leaf("2-zy", false), leaf("3-ab", true)},
		{leaf("5-00", false), leaf("5-0", false), leaf("4-ffff", false)},
	}

	for _, set := range sets {
		expected, ok := ResolveWinner(set)
		require.True(t, ok)
		for _, perm := range permutations(set) {
			got, ok := ResolveWinner(perm)
			require.True(t, ok)
			assert.Equal(t, expected.RevID, got.RevID, "winner must not depend on input order")
		}
	}
}

func TestResolveWinnerDoesNotMutate(t *testing.T) {
	leaves := []ir.Revision{leaf("1-b", false), leaf("2-a", false)}
	_, _ = ResolveWinner(leaves)
	_ = Rank(leaves)
	assert.Equal(t, "1-b", leaves[0].RevID.String())
	assert.Equal(t, "2-a", leaves[1].RevID.String())
}

func TestRank(t *testing.T) {
	ranked := Rank([]ir.Revision{leaf("1-a", false), leaf("3-a", true), leaf("2-b", false), leaf("2-c", false)})

	var got []string
	for _, r := range ranked {
		got = append(got, r.RevID.String())
	}
	assert.Equal(t, []string{"2-c", "2-b", "1-a", "3-a"}, got)
}

func TestIsConflicted(t *testing.T) {
	assert.False(t, IsConflicted([]ir.Revision{leaf("2-a", false)}))
	assert.False(t, IsConflicted([]ir.Revision{leaf("2-a", false), leaf("2-b", true)}))
	assert.True(t, IsConflicted([]ir.Revision{leaf("2-a", false), leaf("2-b", false)}))
}

func TestKeepWinner(t *testing.T) {
	a := leaf("2-a", false)
	a.Body = ir.IRObject{"v": ir.IRString("a")}
	b := leaf("2-b", false)
	b.Body = ir.IRObject{"v": ir.IRString("b")}

	body := KeepWinner.Resolve("doc", []ir.Revision{a, b})
	assert.Equal(t, ir.IRObject{"v": ir.IRString("b")}, body)

	body["v"] = ir.IRString("changed")
	assert.Equal(t, ir.IRString("b"), b.Body["v"], "resolver output must not alias the leaf body")

	assert.Nil(t, KeepWinner.Resolve("doc", nil))
}

func TestResolverFunc(t *testing.T) {
	var seen []ir.Revision
	r := ResolverFunc(func(docID string, conflicts []ir.Revision) ir.IRObject {
		seen = conflicts
		return ir.IRObject{"merged": ir.IRBool(true), "doc": ir.IRString(docID)}
	})

	out := r.Resolve("x", []ir.Revision{leaf("1-a", false)})
	assert.Len(t, seen, 1)
	assert.Equal(t, ir.IRString("x"), out["doc"])
}
