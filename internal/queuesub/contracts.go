// Package queuesub defines the narrow contracts the replication core uses
// for cross-node communication: named FIFO queues, a cluster-visible keyed
// map, and a cluster-wide named lock (SPEC_FULL.md §2 component C2, §6).
//
// These are explicitly "external, contract only": the coordination core
// never assumes a particular backing product. Sibling packages provide
// concrete adapters — memsub (in-process, used by tests and single-node
// embeddings), natssub (JetStream-backed queues), and redissub
// (Redis-backed keyed map and lock).
package queuesub

import (
	"context"
	"time"
)

// Queue is a named, cluster-visible FIFO channel of opaque byte-framed
// messages. Implementations must persist offered messages across restarts
// of individual consumers (SPEC_FULL.md §6).
type Queue interface {
	// Offer enqueues payload, waiting up to timeout for the backing
	// substrate to accept it. It returns false (not an error) on a timeout
	// with no other failure.
	Offer(ctx context.Context, payload []byte, timeout time.Duration) (bool, error)

	// Take blocks until a message is available or ctx is canceled. It is
	// the receiver's only suspension point with no bounded timeout
	// (SPEC_FULL.md §5); cancellation is how shutdown interrupts it.
	Take(ctx context.Context) ([]byte, error)

	// Poll waits up to timeout for a message, returning ok=false on
	// timeout with no other failure.
	Poll(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)

	// Close releases local resources. It does not delete the queue or any
	// messages still queued in the backing substrate.
	Close() error
}

// QueueFactory resolves a Queue by its wire-visible name (SPEC_FULL.md §6
// queue-naming table), creating it lazily if the substrate requires that.
type QueueFactory interface {
	Queue(name string) (Queue, error)
}

// KeyedMap is a cluster-visible, persistent keyed cell. The coordinator
// uses exactly one instance per (node, database) as the undo slot (SPEC_FULL.md §6,
// §4.3 step 2): single-writer, crash-safe, read-on-startup, atomic remove.
type KeyedMap interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Remove atomically deletes key and returns the value that was there,
	// if any. Crash recovery depends on this being atomic: a concurrent
	// Put racing a Remove must not be able to make both the removed read
	// and the subsequent state inconsistent.
	Remove(ctx context.Context, key string) ([]byte, bool, error)
}

// MapFactory resolves a KeyedMap by its wire-visible name.
type MapFactory interface {
	Map(name string) (KeyedMap, error)
}

// Lock is a cluster-wide named mutex (SPEC_FULL.md §6). Fairness between
// contending holders is unspecified, matching the donor contract. The
// adapters in this repository (memsub, redissub) are not reentrant: a second
// Lock call by the current holder blocks like any other contender.
type Lock interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// LockFactory resolves a Lock by its wire-visible name.
type LockFactory interface {
	Lock(name string) (Lock, error)
}

// Substrate bundles the three factories the coordinator needs into a
// single collaborator, matching how the daemon layer (cmd/replicatord)
// wires one concrete backend for all three concerns at once.
type Substrate interface {
	QueueFactory
	MapFactory
	LockFactory
}
