package replication

import (
	"context"
	"testing"
	"time"

	"github.com/kuewdb/replicator/internal/clusterconfig"
	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/partitioner"
	"github.com/kuewdb/replicator/internal/queuesub/memsub"
	"github.com/kuewdb/replicator/internal/store"
)

// testCluster wires up an in-memory deployment of the given nodes for
// database "db0", cluster "cl0" with the given write quorum, shared across one
// memsub.Substrate so every node's queues/locks/undo maps are visible to
// every other node, the way a real cluster-visible substrate would be.
type testCluster struct {
	t         *testing.T
	substrate *memsub.Substrate
	registry  *partitioner.Registry
	admins    map[string]*clusterconfig.StaticAdmin
	engines   map[string]*store.MemEngine
	buses     map[string]*message.Bus
	senders   map[string]*Sender
	receivers map[string]*Receiver
	cancels   map[string]context.CancelFunc
}

func newTestCluster(t *testing.T, nodes []string, writeQuorum int) *testCluster {
	t.Helper()
	sub := memsub.New(32)
	registry := partitioner.NewRegistry(
		partitioner.NewMD5Strategy(),
		partitioner.NewRoundRobinStrategy(),
		partitioner.NewAllNodesStrategy(),
	)

	cfg := &clusterconfig.DatabaseConfiguration{
		Database: "db0",
		Clusters: []clusterconfig.ClusterLayout{{
			Name:              "cl0",
			PartitionStrategy: "all",
			WriteQuorum:       writeQuorum,
			ReplicationFactor: uint32(len(nodes)),
			Partitions: []clusterconfig.Partition{{
				Nodes: append([]string{}, nodes...),
			}},
		}},
	}

	tc := &testCluster{
		t:         t,
		substrate: sub,
		registry:  registry,
		admins:    make(map[string]*clusterconfig.StaticAdmin),
		engines:   make(map[string]*store.MemEngine),
		buses:     make(map[string]*message.Bus),
		senders:   make(map[string]*Sender),
		receivers: make(map[string]*Receiver),
		cancels:   make(map[string]context.CancelFunc),
	}

	for _, n := range nodes {
		admin := clusterconfig.NewStaticAdmin(n)
		admin.PublishDatabaseConfiguration(cfg)
		tc.admins[n] = admin
		tc.engines[n] = store.NewMemEngine()

		bus := message.New(sub, n)
		if err := bus.Start(context.Background()); err != nil {
			t.Fatalf("starting bus for %s: %v", n, err)
		}
		tc.buses[n] = bus

		tc.senders[n] = NewSender(SenderConfig{
			Admin:        admin,
			Strategies:   registry,
			Bus:          bus,
			Locks:        sub,
			QueueTimeout: time.Second,
		})
	}
	return tc
}

// startReceiver launches node's receiver worker, returning a function to
// stop it and wait for acknowledgment.
func (tc *testCluster) startReceiver(node string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReceiver(ReceiverConfig{
		LocalNode:    node,
		Database:     "db0",
		Engine:       tc.engines[node],
		Bus:          tc.buses[node],
		UndoMaps:     tc.substrate,
		QueueTimeout: time.Second,
	})
	tc.receivers[node] = r
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (tc *testCluster) stopAll() {
	for _, b := range tc.buses {
		b.Stop()
	}
}
