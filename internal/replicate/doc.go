// Package replicate moves revisions between two peers.
//
// A Replicator runs one direction of replication as an explicit state
// machine:
//
//	Idle → FetchingCheckpoint → ReadingChanges → DiffingRevisions →
//	TransferringBodies → ApplyingLocally → CommittingCheckpoint → Idle
//
// with Failed reachable from any state. The persisted checkpoint is the only
// recovery point: a session that stops anywhere before CommittingCheckpoint
// re-reads the same batch next time and re-applies it, which is harmless
// because PutRevisions of a present revision is a no-op.
//
// Per-document application is all-or-nothing. A document whose revisions are
// malformed or whose tree is inconsistent is skipped and reported in the
// Summary, the rest of the batch proceeds, and the checkpoint is held below
// the skipped document's sequence so it is retried by the next session.
// Transient failures are retried with exponential backoff a bounded number
// of times before the session fails.
//
// Push and pull are the same code with source and target swapped.
package replicate
