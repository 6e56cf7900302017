package partitioner

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"sort"
)

// MD5Strategy hashes keys to a 16 byte MD5 digest and walks the sorted node
// list starting at the position the digest maps to, adapted from the
// donor's literal/MD5 token partitioner (cluster/partitioner_test.go):
// a token is just bytes, and ownership is "replicationFactor nodes starting
// at the node whose position is >= the key's token".
type MD5Strategy struct{}

// NewMD5Strategy returns the MD5 key-hash partitioning strategy.
func NewMD5Strategy() *MD5Strategy { return &MD5Strategy{} }

func (MD5Strategy) Name() string { return "md5" }

func (MD5Strategy) Token(key string) Token {
	sum := md5.Sum([]byte(key))
	return Token(sum[:])
}

func (s MD5Strategy) NodesForToken(t Token, allNodes []string, replicationFactor uint32) (Partition, error) {
	if len(allNodes) == 0 {
		return Partition{}, fmt.Errorf("partitioner: no nodes to partition across")
	}
	if replicationFactor == 0 {
		return Partition{}, fmt.Errorf("partitioner: replication factor must be >= 1")
	}

	nodes := make([]string, len(allNodes))
	copy(nodes, allNodes)
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(s.Token(nodes[i]), s.Token(nodes[j])) < 0
	})

	start := sort.Search(len(nodes), func(i int) bool {
		return bytes.Compare(s.Token(nodes[i]), t) >= 0
	})

	n := int(replicationFactor)
	if n > len(nodes) {
		n = len(nodes)
	}
	owners := make([]string, 0, n)
	for i := 0; i < n; i++ {
		owners = append(owners, nodes[(start+i)%len(nodes)])
	}
	return Partition{Nodes: owners}, nil
}

// RoundRobinStrategy distributes ownership by walking allNodes starting at
// an offset derived from the key, without hashing into a token space.
// Useful for small, evenly loaded clusters where a real hash ring is
// overkill.
type RoundRobinStrategy struct{}

// NewRoundRobinStrategy returns the round-robin partitioning strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy { return &RoundRobinStrategy{} }

func (RoundRobinStrategy) Name() string { return "round-robin" }

func (RoundRobinStrategy) Token(key string) Token {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	b := []byte{byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}
	return Token(b)
}

func (s RoundRobinStrategy) NodesForToken(t Token, allNodes []string, replicationFactor uint32) (Partition, error) {
	if len(allNodes) == 0 {
		return Partition{}, fmt.Errorf("partitioner: no nodes to partition across")
	}
	nodes := make([]string, len(allNodes))
	copy(nodes, allNodes)
	sort.Strings(nodes)

	var h uint32
	for _, b := range t {
		h = h*31 + uint32(b)
	}
	start := int(h) % len(nodes)

	n := int(replicationFactor)
	if n > len(nodes) {
		n = len(nodes)
	}
	owners := make([]string, 0, n)
	for i := 0; i < n; i++ {
		owners = append(owners, nodes[(start+i)%len(nodes)])
	}
	return Partition{Nodes: owners}, nil
}

// AllNodesStrategy ignores the key entirely and returns every node. It
// backs database-wide requests sent with an empty target cluster.
type AllNodesStrategy struct{}

// NewAllNodesStrategy returns the all-nodes (database-wide) strategy.
func NewAllNodesStrategy() *AllNodesStrategy { return &AllNodesStrategy{} }

func (AllNodesStrategy) Name() string { return "all" }

func (AllNodesStrategy) Token(key string) Token { return nil }

func (AllNodesStrategy) NodesForToken(_ Token, allNodes []string, _ uint32) (Partition, error) {
	nodes := make([]string, len(allNodes))
	copy(nodes, allNodes)
	sort.Strings(nodes)
	return Partition{Nodes: nodes}, nil
}
