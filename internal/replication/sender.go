package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/kuewdb/replicator/internal/clusterconfig"
	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/partitioner"
	"github.com/kuewdb/replicator/internal/queuesub"
	"github.com/kuewdb/replicator/internal/store"
)

// Sender is the outbound path (component C5): resolves a partition, fans a
// request out to every owning node under the cluster lock, then collects
// responses until quorum or timeout.
type Sender struct {
	admin        clusterconfig.Admin
	strategies   *partitioner.Registry
	bus          *message.Bus
	locks        queuesub.LockFactory
	ids          *IDGenerator
	queueTimeout time.Duration
}

// SenderConfig groups a Sender's collaborators.
type SenderConfig struct {
	Admin        clusterconfig.Admin
	Strategies   *partitioner.Registry
	Bus          *message.Bus
	Locks        queuesub.LockFactory
	QueueTimeout time.Duration
}

// NewSender constructs a Sender from cfg, defaulting QueueTimeout to 5s if
// unset (the spec's single global "distributed.queue.timeout" value).
func NewSender(cfg SenderConfig) *Sender {
	timeout := cfg.QueueTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		admin:        cfg.Admin,
		strategies:   cfg.Strategies,
		bus:          cfg.Bus,
		locks:        cfg.Locks,
		ids:          NewIDGenerator(cfg.Admin.LocalNodeName()),
		queueTimeout: timeout,
	}
}

// SendParams is the input to Send. Thread lets a caller simulate a single
// logical sender thread issuing more than one outstanding request (used to
// exercise cross-talk filtering); callers that don't care leave it empty
// and get a fresh one per call, matching "one sender thread per user
// request" (SPEC_FULL.md §5).
type SendParams struct {
	Database string
	Cluster  string
	Key      string
	Payload  Payload
	Mode     ExecutionMode
	Thread   string
}

// Send implements the outbound send() procedure (SPEC_FULL.md §4.1, §4.2).
// It returns nil, nil for ModeNoResponse once the fan-out itself succeeds.
func (s *Sender) Send(ctx context.Context, p SendParams) (store.Value, error) {
	local := s.admin.LocalNodeName()

	nodes, quorum, err := s.resolvePartition(p.Database, p.Cluster, p.Key, p.Payload)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ConfigError(fmt.Sprintf("no nodes own (%s, %s)", p.Database, p.Cluster))
	}

	requestID := s.ids.Next()
	thread := p.Thread
	if thread == "" {
		thread = s.ids.Next()
	}
	p.Payload.SetSourceNode(local)

	available := 0
	for _, n := range nodes {
		if s.admin.IsNodeAvailable(n) {
			available++
		}
	}

	manager := NewResponseManager(nodes, quorum, available, local)

	s.bus.RegisterRequest(requestID, thread)
	inbox := s.bus.RegisterInbox(thread, len(nodes)+1)
	cleanup := func() {
		s.bus.DeregisterRequest(requestID)
		s.bus.DeregisterInbox(thread)
	}

	blob, err := EncodePayload(p.Payload)
	if err != nil {
		cleanup()
		return nil, SendError(fmt.Sprintf("encode payload: %v", err))
	}

	if err := s.fanOut(ctx, p, nodes, requestID, local, thread, blob, manager.ExpectedSync()); err != nil {
		cleanup()
		return nil, err
	}

	if p.Mode == ModeNoResponse {
		cleanup()
		return nil, nil
	}

	begin := time.Now()
	result, resultErr := s.collect(ctx, p, manager, requestID, inbox, begin)

	// The synchronous phase only waits for expected_sync responses; a
	// two-tier timeout (SPEC_FULL.md §5) still bounds late responses from
	// the rest of the fanned-out nodes. If every node has already answered
	// there is nothing left to account for; otherwise keep the inbox alive
	// in the background until total_timeout so late arrivals still update
	// the manager (e.g. for an operator inspecting undo/quorum state)
	// without the caller ever waiting on them.
	if manager.ReceivedCount() >= len(nodes) {
		cleanup()
	} else {
		totalTimeout := p.Payload.TotalTimeout(len(nodes))
		go s.drainAsync(requestID, manager, inbox, begin, totalTimeout, cleanup)
	}

	return result, resultErr
}

// drainAsync implements the asynchronous-accounting half of the two-tier
// timeout (SPEC_FULL.md §5 "total_timeout bounds asynchronous accounting"):
// it keeps recording late responses into manager after Send has already
// returned to its caller, until total_timeout elapses, then tears down the
// thread's registrations.
func (s *Sender) drainAsync(requestID string, manager *ResponseManager, inbox <-chan message.WireResponse, begin time.Time, totalTimeout time.Duration, cleanup func()) {
	defer cleanup()

	for {
		remaining := totalTimeout - time.Since(begin)
		if remaining <= 0 {
			return
		}
		timer := time.NewTimer(remaining)
		select {
		case wr, ok := <-inbox:
			timer.Stop()
			if !ok {
				return
			}
			if wr.RequestID != requestID || wr.ErrMessage != "" {
				continue
			}
			v, err := store.DecodeValue(wr.ResultBlob)
			if err != nil {
				log.Errorf("request %s: decode late response from %s: %v", requestID, wr.ResponderNode, err)
				continue
			}
			manager.Record(wr.ResponderNode, v)
			log.Debugf("request %s: recorded late response from %s during asynchronous accounting", requestID, wr.ResponderNode)
		case <-timer.C:
			return
		}
	}
}

// resolvePartition implements §4.1 steps 1-2: look up the distributed
// configuration, ask the named strategy for the owning node set, and
// compute the quorum threshold.
func (s *Sender) resolvePartition(database, cluster, key string, payload Payload) ([]string, int, error) {
	cfg, ok := s.admin.DatabaseConfiguration(database)
	if !ok {
		return nil, 0, ConfigError(fmt.Sprintf("no distributed configuration published for database %q", database))
	}

	if cluster == "" {
		all := cfg.AllNodes()
		strategy, err := s.strategies.Lookup("all")
		if err != nil {
			return nil, 0, ConfigError(err.Error())
		}
		part, err := strategy.NodesForToken(strategy.Token(key), all, uint32(len(all)))
		if err != nil {
			return nil, 0, ConfigError(err.Error())
		}
		return part.Nodes, len(part.Nodes), nil
	}

	layout, ok := cfg.Cluster(cluster)
	if !ok {
		return nil, 0, ConfigError(fmt.Sprintf("no cluster %q configured for database %q", cluster, database))
	}
	strategy, err := s.strategies.Lookup(layout.PartitionStrategy)
	if err != nil {
		return nil, 0, ConfigError(err.Error())
	}
	flat := layout.Nodes()
	part, err := strategy.NodesForToken(strategy.Token(key), flat, layout.ReplicationFactor)
	if err != nil {
		return nil, 0, ConfigError(err.Error())
	}

	quorum := len(part.Nodes)
	if payload.IsWriteOperation() && layout.WriteQuorum > 0 {
		quorum = layout.WriteQuorum
	}
	return part.Nodes, quorum, nil
}

// fanOut implements §4.1 steps 3-8: acquire the cluster-wide lock, then
// offer the stamped request to every target node's request queue.
func (s *Sender) fanOut(ctx context.Context, p SendParams, nodes []string, requestID, local, thread string, payloadBlob []byte, expectedSync int) error {
	lock, err := s.locks.Lock(message.RequestLockName(p.Database))
	if err != nil {
		return SendError(fmt.Sprintf("resolve cluster lock: %v", err))
	}
	if err := lock.Lock(ctx); err != nil {
		return SendError(fmt.Sprintf("acquire cluster lock for %s: %v", p.Database, err))
	}
	defer lock.Unlock()

	wire := message.WireRequest{
		RequestID:    requestID,
		SenderNode:   local,
		SenderThread: thread,
		Database:     p.Database,
		Cluster:      p.Cluster,
		IsWrite:      p.Payload.IsWriteOperation(),
		ExpectedSync: expectedSync,
		PayloadBlob:  payloadBlob,
	}
	raw, err := message.EncodeRequest(wire)
	if err != nil {
		return SendError(fmt.Sprintf("encode request: %v", err))
	}

	for _, node := range nodes {
		queue, err := s.bus.RequestQueue(node, p.Database)
		if err != nil {
			return SendError(fmt.Sprintf("resolve request queue for %s: %v", node, err))
		}
		ok, err := queue.Offer(ctx, raw, s.queueTimeout)
		if err != nil {
			return SendError(fmt.Sprintf("offer to %s: %v", node, err))
		}
		if !ok {
			return SendError(fmt.Sprintf("offer to %s timed out", node))
		}
	}
	return nil
}

// collect implements §4.2: drain the thread's inbox until quorum or
// timeout, then reduce via the payload's result strategy.
func (s *Sender) collect(ctx context.Context, p SendParams, manager *ResponseManager, requestID string, inbox <-chan message.WireResponse, begin time.Time) (store.Value, error) {
	syncTimeout := p.Payload.SynchronousTimeout(manager.ExpectedSync())

collectLoop:
	for manager.ShouldWaitForSync() {
		remaining := syncTimeout - time.Since(begin)
		if remaining <= 0 {
			log.Warningf("request %s: synchronous timeout elapsed with %d/%d responses", requestID, manager.ReceivedCount(), manager.ExpectedSync())
			break
		}

		timer := time.NewTimer(remaining)
		select {
		case wr, ok := <-inbox:
			timer.Stop()
			if !ok {
				break collectLoop
			}
			if wr.RequestID != requestID {
				// Cross-talk: a response for a different outstanding
				// request sharing this thread's inbox.
				continue
			}
			if wr.ErrMessage != "" {
				log.Warningf("request %s: node %s reported error: %s", requestID, wr.ResponderNode, wr.ErrMessage)
				continue
			}
			v, err := store.DecodeValue(wr.ResultBlob)
			if err != nil {
				log.Errorf("request %s: decode response from %s: %v", requestID, wr.ResponderNode, err)
				continue
			}
			manager.Record(wr.ResponderNode, v)
		case <-timer.C:
			log.Warningf("request %s: poll timed out with %d/%d responses", requestID, manager.ReceivedCount(), manager.ExpectedSync())
			break collectLoop
		case <-ctx.Done():
			timer.Stop()
			break collectLoop
		}
	}

	if manager.ExecuteOnLocal() && !manager.ReceivedCurrentNode() {
		log.Warningf("request %s: local node never answered its own request", requestID)
	}

	if !manager.MetQuorum() {
		shortfall := &QuorumShortfallError{Received: manager.ReceivedCount(), Quorum: manager.Quorum()}
		log.Warningf("request %s: %v, invoking undo", requestID, shortfall)
		p.Payload.Undo()
	}

	if manager.ReceivedCount() == 0 {
		return nil, NoResponseError(requestID)
	}

	v, ok, err := manager.Result(p.Key, p.Payload.ResultStrategy())
	if err != nil {
		return nil, &ExecutionError{Cause: err}
	}
	if !ok {
		return nil, NoResponseError(requestID)
	}
	return v, nil
}
