package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// stringValue is the only Value kind the reference engine produces: a
// timestamped string, adapted from the donor's singleValue
// (store/redis.go).
type stringValue struct {
	Data string
	Ts   time.Time
}

func (v stringValue) Timestamp() time.Time { return v.Ts }

// String returns the underlying string payload.
func (v stringValue) String() string { return v.Data }

// NewStringValue constructs a Value carrying data, timestamped now by the
// caller.
func NewStringValue(data string, ts time.Time) Value {
	return stringValue{Data: data, Ts: ts}
}

// MemEngine is an in-memory, single-process reference implementation of
// Engine. It exists so the receiver, crash recovery, and reconciliation
// paths have something concrete to run against in tests and in a
// single-node embedding of the coordinator; it is not meant to model a
// real storage engine (SPEC_FULL.md §1 non-goals).
type MemEngine struct {
	mu   sync.RWMutex
	data map[string]stringValue
}

// NewMemEngine constructs an empty MemEngine.
func NewMemEngine() *MemEngine {
	return &MemEngine{data: make(map[string]stringValue)}
}

func (e *MemEngine) Start() error { return nil }
func (e *MemEngine) Stop() error  { return nil }

func (e *MemEngine) Execute(_ ExecContext, instr Instruction) (Value, error) {
	switch instr.Cmd {
	case "GET":
		e.mu.RLock()
		defer e.mu.RUnlock()
		v, ok := e.data[instr.Key]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SET":
		if len(instr.Args) < 1 {
			return nil, fmt.Errorf("store: SET requires a value argument")
		}
		v := stringValue{Data: instr.Args[0], Ts: instr.Timestamp}
		e.mu.Lock()
		e.data[instr.Key] = v
		e.mu.Unlock()
		return v, nil
	case "DEL":
		e.mu.Lock()
		delete(e.data, instr.Key)
		e.mu.Unlock()
		return nil, nil
	default:
		return nil, fmt.Errorf("store: unknown command %q", instr.Cmd)
	}
}

// ReconcileValues picks the value with the latest timestamp as authoritative
// (last-write-wins, the same strategy the donor's Cluster.reconcileRead
// drives off of) and emits a corrective SET instruction for every replica
// whose reported value differs from the winner. It is a free function, not
// an Engine method, so the sender-side ResultMerge reduction (a pure
// in-memory merge over already-collected responses) can call it without
// the sender needing an Engine handle of its own (SPEC_FULL.md §5: the
// database handle is shared by the receiver and crash-recovery paths only).
func ReconcileValues(key string, values []Value) (Value, map[string][]Instruction, error) {
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("store: cannot reconcile zero values")
	}

	winner := values[0]
	for _, v := range values[1:] {
		if v != nil && (winner == nil || v.Timestamp().After(winner.Timestamp())) {
			winner = v
		}
	}

	corrections := make(map[string][]Instruction)
	if sv, ok := winner.(stringValue); ok {
		for i, v := range values {
			if v == nil || !valuesEqual(v, winner) {
				nodeKey := fmt.Sprintf("replica-%d", i)
				corrections[nodeKey] = []Instruction{{
					Cmd:       "SET",
					Key:       key,
					Args:      []string{sv.Data},
					Timestamp: sv.Ts,
				}}
			}
		}
	}
	return winner, corrections, nil
}

// Reconcile implements Engine.Reconcile by delegating to ReconcileValues,
// kept on the type so any future caller that already holds an Engine (e.g.
// a read-repair step run from the receiver) has the capability without a
// second reconciliation code path to drift out of sync.
func (e *MemEngine) Reconcile(key string, values []Value) (Value, map[string][]Instruction, error) {
	return ReconcileValues(key, values)
}

func valuesEqual(a, b Value) bool {
	av, aok := a.(stringValue)
	bv, bok := b.(stringValue)
	if !aok || !bok {
		return a == b
	}
	return av.Data == bv.Data && av.Ts.Equal(bv.Ts)
}

func (e *MemEngine) ClearFirstLevelCache() {
	// the reference engine has no read-through cache to clear; real
	// engines would drop per-request record caches here.
}

// Keys returns a sorted snapshot of all keys held by the engine.
func (e *MemEngine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Engine = (*MemEngine)(nil)
