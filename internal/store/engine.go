// Package store defines the narrow contract the replication core needs from
// the document database engine it sits in front of. Storage-engine internals,
// on-disk formats, and query planning are out of scope (see SPEC_FULL.md §1);
// this package only carries the surface the receiver and crash-recovery
// paths execute requests against.
package store

import "time"

// Value is an opaque result blob returned by query execution. Engines decide
// their own representation; the coordinator never inspects it beyond passing
// it to a Response.
type Value interface {
	// Timestamp returns the highest-level write timestamp associated with
	// this value, used by reconciliation to pick a winner.
	Timestamp() time.Time
}

// Instruction is a single read or write operation against the engine,
// adapted from the donor's store.Instruction: an immutable value object
// naming a command, a key, arguments, and a timestamp.
type Instruction struct {
	Cmd       string
	Key       string
	Args      []string
	Timestamp time.Time
}

// Engine is the local document database collaborator. The receiver (C6) and
// crash recovery (C8) are its only callers; senders never touch it directly.
type Engine interface {
	Start() error
	Stop() error

	// Execute runs cmd against key with args, returning the opaque result
	// value produced. It is invoked with the "distributed" scenario tag set
	// on the execution context (see ExecContext below) so
	// the engine's own hooks/triggers can tell a replication-driven
	// execution apart from a direct user transaction.
	Execute(ctx ExecContext, instr Instruction) (Value, error)

	// Reconcile merges multiple replicas' values for the same key into a
	// single authoritative value, plus any corrective instructions that
	// should be replayed against the replicas that disagreed.
	Reconcile(key string, values []Value) (Value, map[string][]Instruction, error)

	// ClearFirstLevelCache drops any per-request read-through cache the
	// engine keeps, enforcing the freshness invariant that every inbound
	// request starts against a clean cache (SPEC_FULL.md §4.3 step 3).
	ClearFirstLevelCache()
}

// ExecContext threads the per-execution "distributed scenario" tag and
// active-database selection through the engine call, replacing the donor's
// thread-local scenario mode / active database globals with an explicit
// value (SPEC_FULL.md §11 design note on global singletons).
type ExecContext struct {
	Database    string
	Distributed bool
}
