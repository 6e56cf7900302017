package message

import "fmt"

// These are the wire-visible queue/map/lock names every node in the cluster
// agrees on (SPEC_FULL.md §6). Keeping them in one place guarantees the
// sender, the receiver, and the substrate-backed tests never drift.

// RequestQueueName is the per-(node, database) inbound request queue name.
func RequestQueueName(node, database string) string {
	return fmt.Sprintf("orientdb.node.%s.%s.request", node, database)
}

// ResponseQueueName is the single shared response queue a node's message
// bus demultiplexes into per-thread inboxes.
func ResponseQueueName(node string) string {
	return fmt.Sprintf("orientdb.node.%s.response", node)
}

// UndoMapName is the cluster-visible undo-slot cell name for (node, database).
func UndoMapName(node, database string) string {
	return fmt.Sprintf("orientdb.node.%s.%s.undo", node, database)
}

// RequestLockName is the cluster-wide, database-scoped fan-out lock name.
func RequestLockName(database string) string {
	return fmt.Sprintf("orientdb.reqlock.%s", database)
}
