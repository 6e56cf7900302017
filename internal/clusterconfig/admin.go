package clusterconfig

import "sync"

// Admin is the narrow cluster-membership and configuration-publication
// contract the coordinator depends on (SPEC_FULL.md §11 design note on
// breaking the coordinator/message-service/plugin cycle via capability
// interfaces). The physical membership protocol — heartbeats, split-brain
// detection — is out of scope and lives behind whatever implements this
// interface in a real deployment.
type Admin interface {
	// LocalNodeName returns this process's node identifier.
	LocalNodeName() string

	// IsNodeAvailable reports whether node is currently reachable. Sender
	// fan-out still targets unavailable nodes (queues persist messages);
	// this only affects how many nodes it waits on synchronously.
	IsNodeAvailable(node string) bool

	// DatabaseConfiguration returns the current distributed configuration
	// document for db, or ok=false if none has been published yet.
	DatabaseConfiguration(db string) (*DatabaseConfiguration, bool)

	// PublishDatabaseConfiguration writes cfg to the cluster-visible
	// configuration map under "database.<name>" and notifies the plugin
	// layer to apply it (SPEC_FULL.md §4.7 step "If dirty").
	PublishDatabaseConfiguration(cfg *DatabaseConfiguration) error
}

// StaticAdmin is a fixed-membership, single-process reference
// implementation of Admin: every node is always available and
// configuration publication just updates an in-memory map. It is the
// default Admin for tests and for a single-node embedding of the
// coordinator.
type StaticAdmin struct {
	mu          sync.RWMutex
	localNode   string
	unavailable map[string]bool
	configs     map[string]*DatabaseConfiguration
}

// NewStaticAdmin constructs a StaticAdmin identifying as localNode.
func NewStaticAdmin(localNode string) *StaticAdmin {
	return &StaticAdmin{
		localNode:   localNode,
		unavailable: make(map[string]bool),
		configs:     make(map[string]*DatabaseConfiguration),
	}
}

func (a *StaticAdmin) LocalNodeName() string { return a.localNode }

func (a *StaticAdmin) IsNodeAvailable(node string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.unavailable[node]
}

// SetAvailable flips node's availability, used by tests to simulate a
// replica going down (SPEC_FULL.md §8 scenario "one replica down").
func (a *StaticAdmin) SetAvailable(node string, available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if available {
		delete(a.unavailable, node)
	} else {
		a.unavailable[node] = true
	}
}

func (a *StaticAdmin) DatabaseConfiguration(db string) (*DatabaseConfiguration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg, ok := a.configs[db]
	return cfg, ok
}

func (a *StaticAdmin) PublishDatabaseConfiguration(cfg *DatabaseConfiguration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs[cfg.Database] = cfg
	return nil
}

var _ Admin = (*StaticAdmin)(nil)
