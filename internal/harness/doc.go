// Package harness runs replication scenarios against real stores.
//
// A scenario is a YAML file naming a set of stores and a sequence of steps:
//
//	name: concurrent-edit
//	description: two replicas edit the same document and converge
//	stores: [a, b]
//	steps:
//	  - {op: create, store: a, doc: d1, body: {v: 1}}
//	  - {op: replicate, from: a, to: b}
//	  - {op: update, store: a, doc: d1, body: {v: 2}}
//	  - {op: update, store: b, doc: d1, body: {v: 3}}
//	  - {op: replicate, from: a, to: b}
//	  - {op: replicate, from: b, to: a}
//	expect:
//	  converged: [a, b]
//	  documents:
//	    - {store: a, doc: d1, leaves: 2, generation: 2, conflicted: true}
//
// Each store is a SQLite database in a scratch directory with its own
// checkpoint tracker. A replicate step pulls into "to" from "from".
// Updates and deletes name no revision: they apply to the current winner.
//
// The runner records a trace of every step plus the final shape of every
// document. The trace never contains revision digests, so golden files stay
// stable across body changes that do not alter tree shape.
package harness
