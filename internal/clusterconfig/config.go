// Package clusterconfig models the per-database distributed configuration
// document (partition layout, write quorum, partitioning strategy name) and
// the narrow cluster-membership contract the coordinator consumes.
//
// This is the "distributed configuration" collaborator from SPEC_FULL.md §6:
// its internals (how the document reaches disk, how membership is detected)
// are out of scope for the coordination core, but the shape of the document
// is specified here since the reconciler (C7) mutates and re-serializes it.
package clusterconfig

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// NewNodeTag is the sentinel placeholder a partition slot holds until a
// newly joining node claims it.
const NewNodeTag = "$newNode"

// Partition is an ordered list of node names owning a shard of a cluster,
// optionally grouped by datacenter id (SPEC_FULL.md §10 datacenter
// supplement). DatacenterID is empty for single-datacenter deployments.
type Partition struct {
	DatacenterID string   `yaml:"datacenter,omitempty"`
	Nodes        []string `yaml:"nodes"`
}

// HasSentinel reports whether any slot in the partition is the $newNode
// placeholder (case-insensitive, matching the donor's reconciler).
func (p Partition) HasSentinel() bool {
	for _, n := range p.Nodes {
		if strings.EqualFold(n, NewNodeTag) {
			return true
		}
	}
	return false
}

// ClaimSentinel replaces the first $newNode slot with node, returning true
// if a slot was found and replaced.
func (p *Partition) ClaimSentinel(node string) bool {
	for i, n := range p.Nodes {
		if strings.EqualFold(n, NewNodeTag) {
			p.Nodes[i] = node
			return true
		}
	}
	return false
}

// Contains reports whether node already owns a slot in the partition.
func (p Partition) Contains(node string) bool {
	for _, n := range p.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// ClusterLayout is the partition list for a single intra-database cluster
// (shard group), plus the settings a sender needs to fan a request out
// across it.
type ClusterLayout struct {
	Name               string      `yaml:"name"`
	PartitionStrategy  string      `yaml:"partitionStrategy"`
	WriteQuorum        int         `yaml:"writeQuorum"`
	ReplicationFactor  uint32      `yaml:"replicationFactor"`
	Partitions         []Partition `yaml:"partitions"`
}

// Nodes returns the deduplicated union of every node named anywhere in the
// cluster's partitions, excluding the $newNode sentinel. The partitioner
// hashes a request key against this flattened set to pick replicas; the
// nested Partitions structure itself is the administrator-managed
// membership list the reconciler maintains.
func (c ClusterLayout) Nodes() []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, p := range c.Partitions {
		for _, n := range p.Nodes {
			if strings.EqualFold(n, NewNodeTag) || seen[n] {
				continue
			}
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// DatabaseConfiguration is the distributed configuration document for a
// single database: the set of intra-database clusters and their partition
// layouts. It is the "Document" the donor's configuration collaborator
// serializes and republishes (SPEC_FULL.md §6, §4.7).
type DatabaseConfiguration struct {
	Database string          `yaml:"database"`
	Clusters []ClusterLayout `yaml:"clusters"`
}

// ClusterNames returns the configured intra-database cluster names.
func (c *DatabaseConfiguration) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for _, cl := range c.Clusters {
		names = append(names, cl.Name)
	}
	return names
}

// Cluster looks up a cluster layout by name. An empty name denotes the
// database-wide (no-cluster) request target; callers resolving that case
// should use AllNodes instead of Cluster.
func (c *DatabaseConfiguration) Cluster(name string) (*ClusterLayout, bool) {
	for i := range c.Clusters {
		if c.Clusters[i].Name == name {
			return &c.Clusters[i], true
		}
	}
	return nil, false
}

// AllNodes returns the union of every node named anywhere in the
// configuration, used to resolve database-wide (empty-cluster) requests.
func (c *DatabaseConfiguration) AllNodes() []string {
	seen := make(map[string]bool)
	var nodes []string
	for _, cl := range c.Clusters {
		for _, p := range cl.Partitions {
			for _, n := range p.Nodes {
				if strings.EqualFold(n, NewNodeTag) || seen[n] {
					continue
				}
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}

// ContainsNode reports whether node appears in any partition of any
// cluster in the configuration.
func (c *DatabaseConfiguration) ContainsNode(node string) bool {
	for _, cl := range c.Clusters {
		for _, p := range cl.Partitions {
			if p.Contains(node) {
				return true
			}
		}
	}
	return false
}

// Serialize renders the configuration as its canonical YAML document, the
// form written to the cluster-visible configuration map under
// "database.<name>".
func (c *DatabaseConfiguration) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// Parse reads a DatabaseConfiguration from its serialized document form.
func Parse(doc []byte) (*DatabaseConfiguration, error) {
	var cfg DatabaseConfiguration
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
