package replication

import (
	"sync"

	"github.com/kuewdb/replicator/internal/store"
)

// ResponseManager tracks one outstanding request's collection state: who it
// was sent to, how many synchronous responses it needs, and what has come
// back so far (SPEC_FULL.md §3 "Response-manager state", component C4).
type ResponseManager struct {
	mu sync.Mutex

	expectedNodes map[string]bool
	expectedSync  int
	quorum        int
	executeOnLocal bool
	localNode      string

	responses       map[string]store.Value
	order           []string // responder node names, in arrival order
	receivedLocal   bool
	first           store.Value
}

// NewResponseManager builds a manager for a request fanned out to nodes,
// with availableCount reachable at send time and the given write/read
// quorum. executeOnLocal and localNode support the "warn if the local node
// never answers its own request" check in §4.2.
func NewResponseManager(nodes []string, quorum, availableCount int, localNode string) *ResponseManager {
	expected := make(map[string]bool, len(nodes))
	executeOnLocal := false
	for _, n := range nodes {
		expected[n] = true
		if n == localNode {
			executeOnLocal = true
		}
	}
	expectedSync := availableCount
	if quorum < expectedSync {
		expectedSync = quorum
	}
	return &ResponseManager{
		expectedNodes:  expected,
		expectedSync:   expectedSync,
		quorum:         quorum,
		executeOnLocal: executeOnLocal,
		localNode:      localNode,
		responses:      make(map[string]store.Value),
	}
}

// Record stores a response from node, ignoring a node outside the expected
// set (it cannot affect quorum) and a duplicate from one already recorded.
func (m *ResponseManager) Record(node string, v store.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.expectedNodes[node] {
		return
	}
	if _, seen := m.responses[node]; seen {
		return
	}
	m.responses[node] = v
	m.order = append(m.order, node)
	if m.first == nil {
		m.first = v
	}
	if node == m.localNode {
		m.receivedLocal = true
	}
}

// ReceivedCount returns how many distinct expected nodes have responded.
func (m *ResponseManager) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

// ShouldWaitForSync reports whether the collection loop should keep
// polling: true until received_count reaches expected_sync.
func (m *ResponseManager) ShouldWaitForSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses) < m.expectedSync
}

// ExecuteOnLocal reports whether the local node was itself a fan-out target.
func (m *ResponseManager) ExecuteOnLocal() bool { return m.executeOnLocal }

// ReceivedCurrentNode reports whether the local node's own response arrived.
func (m *ResponseManager) ReceivedCurrentNode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedLocal
}

// MetQuorum reports whether enough distinct nodes have responded to
// consider the write authoritative.
func (m *ResponseManager) MetQuorum() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses) >= m.quorum
}

// Quorum and ExpectedSync expose the manager's arithmetic for callers that
// need to report a QuorumShortfallError.
func (m *ResponseManager) Quorum() int       { return m.quorum }
func (m *ResponseManager) ExpectedSync() int { return m.expectedSync }

// Result reduces the collected responses to a single value per strategy,
// keyed by the request's target key so ResultMerge can produce corrective
// instructions scoped to the right record. It returns ok=false if nothing
// was ever recorded.
func (m *ResponseManager) Result(key string, strategy ResultStrategy) (store.Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil, false, nil
	}
	switch strategy {
	case ResultMerge:
		v, err := m.merge(key)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case ResultMajority:
		return m.majority(), true, nil
	default: // ResultFirst
		return m.first, true, nil
	}
}

// merge routes the recorded values through store.ReconcileValues, the same
// last-write-wins reducer the engine itself uses, so a read-path merge and
// the engine's own reconciliation never disagree. It is a free function
// rather than an Engine method call, so the sender does not need a handle
// to the storage engine (§5).
func (m *ResponseManager) merge(key string) (store.Value, error) {
	values := make([]store.Value, 0, len(m.order))
	for _, n := range m.order {
		values = append(values, m.responses[n])
	}
	winner, _, err := store.ReconcileValues(key, values)
	return winner, err
}

// majority picks the value that the most responders returned, comparing by
// each value's timestamp as a cheap equality proxy since store.Value only
// guarantees a Timestamp() accessor. On a tie, the value that reached the
// winning count first (in arrival order) is kept.
func (m *ResponseManager) majority() store.Value {
	counts := make(map[int64]int)
	best := m.first
	bestCount := 0
	for _, n := range m.order {
		v := m.responses[n]
		ts := v.Timestamp().UnixNano()
		counts[ts]++
		if counts[ts] > bestCount {
			bestCount = counts[ts]
			best = v
		}
	}
	return best
}
