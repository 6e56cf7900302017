// Package partitioner resolves which nodes own a (database, cluster) shard
// and pluggable strategies for computing that ownership.
//
// This is component C1 of the replication coordinator: it has no knowledge
// of node availability (that is the sender's concern, see internal/replication)
// and no knowledge of quorum (that lives in the database configuration).
package partitioner

import "fmt"

// Token is an opaque position in a partitioner's key space. Two tokens are
// only comparable if they were produced by the same Strategy.
type Token []byte

// Partition is the ordered set of node names that own a given shard.
// Order matters for strategies (e.g. round-robin) that treat the first
// entry as a preferred coordinator; callers that don't care about order
// should treat it as a set.
type Partition struct {
	Nodes []string
}

// Contains reports whether node is present in the partition.
func (p Partition) Contains(node string) bool {
	for _, n := range p.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// Strategy computes partition ownership for a database/cluster pair and the
// token space behind it. Strategies are looked up by Name and registered in
// a Registry; the coordinator never constructs one directly.
type Strategy interface {
	// Name identifies the strategy for configuration lookups, e.g. "md5",
	// "round-robin", "all".
	Name() string

	// Token computes the token a key hashes to under this strategy.
	Token(key string) Token

	// NodesForToken returns the ordered partition owning t, given the full
	// set of nodes participating in cluster and the desired replication
	// factor (number of distinct nodes to return).
	NodesForToken(t Token, allNodes []string, replicationFactor uint32) (Partition, error)
}

// Registry resolves strategies by name. It is populated at startup by the
// daemon layer (cmd/replicatord) and handed to the coordinator read-only.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a Registry seeded with the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	return r
}

// ErrUnknownStrategy is returned by Lookup when no strategy is registered
// under the requested name. The coordinator surfaces this as a ConfigError.
type ErrUnknownStrategy string

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("partitioner: unknown strategy %q", string(e))
}

// Lookup returns the strategy registered under name.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, ErrUnknownStrategy(name)
	}
	return s, nil
}
