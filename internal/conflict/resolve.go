package conflict

import (
	"slices"

	"github.com/roach88/revsync/internal/ir"
)

// Less reports whether leaf a loses to leaf b.
func Less(a, b ir.Revision) bool {
	return Compare(a, b) < 0
}

// Compare orders two leaves by winning priority: negative when a loses,
// positive when a wins, zero when they are the same revision.
func Compare(a, b ir.Revision) int {
	if a.Deleted != b.Deleted {
		if a.Deleted {
			return -1
		}
		return 1
	}
	return a.RevID.Compare(b.RevID)
}

// ResolveWinner returns the winning leaf. The result does not depend on the
// order of leaves. ok is false only for an empty leaf set.
//
// ResolveWinner never mutates its input.
func ResolveWinner(leaves []ir.Revision) (winner ir.Revision, ok bool) {
	if len(leaves) == 0 {
		return ir.Revision{}, false
	}
	winner = leaves[0]
	for _, leaf := range leaves[1:] {
		if Compare(leaf, winner) > 0 {
			winner = leaf
		}
	}
	return winner, true
}

// Rank returns the leaves sorted from winner to weakest loser.
// The input slice is left untouched.
func Rank(leaves []ir.Revision) []ir.Revision {
	ranked := slices.Clone(leaves)
	slices.SortFunc(ranked, func(a, b ir.Revision) int {
		return Compare(b, a)
	})
	return ranked
}

// Live returns the non-deleted revisions of leaves, preserving order.
func Live(leaves []ir.Revision) []ir.Revision {
	live := make([]ir.Revision, 0, len(leaves))
	for _, leaf := range leaves {
		if !leaf.Deleted {
			live = append(live, leaf)
		}
	}
	return live
}

// IsConflicted reports whether more than one leaf is live.
func IsConflicted(leaves []ir.Revision) bool {
	return len(Live(leaves)) > 1
}
