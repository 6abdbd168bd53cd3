// Package store provides the SQLite-backed revision store.
//
// Each document is a tree of immutable revisions kept in an arena table keyed
// by (doc_id, rev_id), with parent links stored as revision ids rather than
// pointers. A per-document summary row caches the winning leaf, recomputed
// from the leaf set after every write with conflict.ResolveWinner.
//
// # Invariants
//
//   - Revisions are immutable; every mutation writes a child revision
//   - Every non-root revision's parent exists in the same tree
//   - seq is assigned at write time, strictly increasing, never reused
//   - Exactly one change entry exists per written revision
//   - Writes to one document are serialized by a keyed lock table;
//     writes to different documents do not wait on each other's locks
//
// # Write paths
//
// CreateDocument, UpdateDocument and DeleteDocument are optimistic: the
// caller names the revision it read and gets ConflictError if the winner
// moved. PutRevision and PutRevisions insert foreign revisions by id with
// no concurrency check; they are idempotent and all-or-nothing per call.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Revision digests are computed by internal/ir over RFC 8785 canonical JSON.
package store
