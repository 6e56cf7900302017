// Package replication implements the per-database distributed replication
// coordinator: fan-out send with quorum collection (Sender), a single
// inbound worker per database (Receiver), crash-durable recovery of an
// in-flight request, and membership reconciliation into partition layouts.
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kuewdb/replicator/internal/clusterconfig"
	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/partitioner"
	"github.com/kuewdb/replicator/internal/queuesub"
	"github.com/kuewdb/replicator/internal/store"
)

// Coordinator is the single entry point a plugin layer embeds: one per
// node, fronting every database that node hosts. It exposes exactly the
// core's external interface (SPEC_FULL.md §6): Send, ConfigureDatabase,
// Shutdown, GetDatabase.
type Coordinator struct {
	admin      clusterconfig.Admin
	strategies *partitioner.Registry
	substrate  queuesub.Substrate
	bus        *message.Bus
	sender     *Sender

	queueTimeout time.Duration

	mu        sync.Mutex
	databases map[string]*databaseState
}

type databaseState struct {
	engine   store.Engine
	receiver *Receiver
	cancel   context.CancelFunc
}

// Config groups everything a Coordinator needs from its embedding plugin.
type Config struct {
	Admin        clusterconfig.Admin
	Strategies   *partitioner.Registry
	Substrate    queuesub.Substrate
	QueueTimeout time.Duration
}

// NewCoordinator constructs a Coordinator and starts its message bus.
func NewCoordinator(ctx context.Context, cfg Config) (*Coordinator, error) {
	timeout := cfg.QueueTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	bus := message.New(cfg.Substrate, cfg.Admin.LocalNodeName())
	if err := bus.Start(ctx); err != nil {
		return nil, fmt.Errorf("replication: start message bus: %w", err)
	}

	c := &Coordinator{
		admin:        cfg.Admin,
		strategies:   cfg.Strategies,
		substrate:    cfg.Substrate,
		bus:          bus,
		queueTimeout: timeout,
		databases:    make(map[string]*databaseState),
	}
	c.sender = NewSender(SenderConfig{
		Admin:        cfg.Admin,
		Strategies:   cfg.Strategies,
		Bus:          bus,
		Locks:        cfg.Substrate,
		QueueTimeout: timeout,
	})
	return c, nil
}

// Send broadcasts p to the partition owning (p.Database, p.Cluster, p.Key)
// and collects responses per SPEC_FULL.md §4.1-§4.2.
func (c *Coordinator) Send(ctx context.Context, p SendParams) (store.Value, error) {
	return c.sender.Send(ctx, p)
}

// ConfigureDatabase implements the §4.6 startup procedure for a database
// this node hosts: crash recovery, then pending-drain (handled implicitly
// since the Receiver's first Take simply resumes wherever the queue left
// off), then start the receiver, then reconcile membership.
func (c *Coordinator) ConfigureDatabase(ctx context.Context, database string, engine store.Engine) error {
	if err := engine.Start(); err != nil {
		return fmt.Errorf("replication: start engine for %s: %w", database, err)
	}

	RecoverUndoSlot(ctx, c.admin.LocalNodeName(), database, engine, c.bus, c.substrate, c.queueTimeout)

	receiver := NewReceiver(ReceiverConfig{
		LocalNode:    c.admin.LocalNodeName(),
		Database:     database,
		Engine:       engine,
		Bus:          c.bus,
		UndoMaps:     c.substrate,
		QueueTimeout: c.queueTimeout,
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := receiver.Run(runCtx); err != nil {
			log.Errorf("receiver for %s exited: %v", database, err)
		}
	}()

	c.mu.Lock()
	c.databases[database] = &databaseState{engine: engine, receiver: receiver, cancel: cancel}
	c.mu.Unlock()

	reconciler := NewReconciler(c.admin)
	if _, err := reconciler.Reconcile(database); err != nil {
		log.Errorf("reconciler for %s: %v", database, err)
	}
	return nil
}

// GetDatabase returns the engine configured for database, if any.
func (c *Coordinator) GetDatabase(database string) (store.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.databases[database]
	if !ok {
		return nil, false
	}
	return st.engine, true
}

// Shutdown stops every receiver and the message bus, sequenced as
// cancel -> join -> close (SPEC_FULL.md §11 resolved open question):
// interrupt every receiver, wait for each to acknowledge, only then close
// the database handles.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	states := make([]*databaseState, 0, len(c.databases))
	for _, st := range c.databases {
		states = append(states, st)
	}
	c.mu.Unlock()

	for _, st := range states {
		st.cancel()
	}
	for _, st := range states {
		st.receiver.Wait()
	}
	for _, st := range states {
		if err := st.engine.Stop(); err != nil {
			log.Errorf("replication: stop engine: %v", err)
		}
	}

	c.bus.Stop()
}
