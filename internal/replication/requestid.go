package replication

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces request_id values unique across the cluster. A node
// name plus a local monotonic counter would suffice, but a restart resets
// any in-memory counter while messages from the prior incarnation may still
// be in flight, so the suffix is a UUID instead.
type IDGenerator struct {
	node string
}

// NewIDGenerator builds a generator that stamps every id with node.
func NewIDGenerator(node string) *IDGenerator {
	return &IDGenerator{node: node}
}

// Next returns a fresh, cluster-unique request id.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%s", g.node, uuid.NewString())
}
