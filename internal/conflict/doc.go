// Package conflict picks winning revisions among a document's leaves.
//
// ResolveWinner is a pure function of the leaf set: two stores that hold the
// same leaves agree on the winner without any coordination, which is what
// lets replicas converge.
//
// Order over leaves:
//  1. Non-deleted leaves beat tombstones
//  2. Higher generation wins
//  3. Among equal generations, the lexicographically greatest digest wins
//
// Rule 1 is checked before generation, so the winner is not simply the
// highest generation leaf: a live leaf at generation 2 beats a tombstone at
// generation 5. Deleting one branch of a conflict therefore exposes the
// surviving branch instead of hiding the document. Only when every leaf is a
// tombstone does the document read as deleted, and then the highest
// generation tombstone is the winner.
//
// Resolver is the hook for explicit, application-level conflict resolution:
// it merges the live leaves into one body that the store then writes on top
// of the current winner.
package conflict
