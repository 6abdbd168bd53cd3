package conflict

import "github.com/roach88/revsync/internal/ir"

// Resolver merges the live leaves of a conflicted document.
//
// conflicts holds every non-deleted leaf, including the current winner, in no
// particular order. Resolve returns the body of the new winning revision, or
// nil to leave the document untouched.
//
// Implementations must be deterministic for a given conflict set and must not
// write to the store themselves: the returned body may be discarded if the
// store rejects the resolution.
type Resolver interface {
	Resolve(docID string, conflicts []ir.Revision) ir.IRObject
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(docID string, conflicts []ir.Revision) ir.IRObject

// Resolve calls f.
func (f ResolverFunc) Resolve(docID string, conflicts []ir.Revision) ir.IRObject {
	return f(docID, conflicts)
}

// KeepWinner resolves a conflict in favor of the deterministic winner: its
// body is carried forward and every other branch is closed.
var KeepWinner Resolver = ResolverFunc(func(_ string, conflicts []ir.Revision) ir.IRObject {
	winner, ok := ResolveWinner(conflicts)
	if !ok {
		return nil
	}
	body := winner.Body.Clone()
	if body == nil {
		body = ir.IRObject{}
	}
	return body
})
