package replication

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/kuewdb/replicator/internal/store"
)

// ResultStrategy names how a ResponseManager reduces the responses it
// collected into the single value Send returns to its caller. The strategy
// is a property of the payload, not of the manager (SPEC_FULL.md glossary:
// "Result strategy").
type ResultStrategy int

const (
	// ResultFirst returns whichever response was recorded first.
	ResultFirst ResultStrategy = iota
	// ResultMajority returns the value that the most responders agreed on,
	// breaking ties by arrival order.
	ResultMajority
	// ResultMerge reconciles every recorded value with the engine's
	// last-write-wins reducer (store.ReconcileValues) instead of just
	// picking one; no engine handle is involved.
	ResultMerge
)

// Payload is the opaque, self-describing unit of work a Request carries.
// The coordination core never interprets a payload's semantics; it only
// calls the capabilities below, matching the external payload contract
// (SPEC_FULL.md §6).
type Payload interface {
	// IsWriteOperation reports whether this payload mutates the database,
	// which determines whether quorum is the configured write quorum or
	// simply every targeted node (a read).
	IsWriteOperation() bool

	// TotalTimeout bounds asynchronous accounting across nNodes targets.
	TotalTimeout(nNodes int) time.Duration

	// SynchronousTimeout bounds the user-visible quorum wait given
	// expectedSync targets counted as reachable at send time.
	SynchronousTimeout(expectedSync int) time.Duration

	// ResultStrategy selects how collected responses reduce to one value.
	ResultStrategy() ResultStrategy

	// Execute runs the payload against the local engine under ctx and
	// returns the opaque result value to ship back to the sender.
	Execute(ctx store.ExecContext, engine store.Engine) (store.Value, error)

	// Undo is the best-effort compensating action invoked exactly once,
	// only when a send's received responses fell short of quorum.
	Undo()

	// SetSourceNode tells the payload which node originated the request
	// it travels with, mirroring the donor contract's set_node_source.
	SetSourceNode(node string)

	// Clone returns a payload of the same concrete type as the receiver,
	// a fresh copy suitable for independent mutation (e.g. by Undo()).
	// Implementations must construct their own concrete type directly —
	// never delegate to a shared/generic clone helper, which is exactly
	// the bug class the donor's OFixRecordTask.copy() fell into by
	// constructing the wrong concrete type.
	Clone() Payload
}

// payloadEnvelope is the self-describing byte envelope used to move a
// Payload through a queuesub.Queue: a type tag plus gob-encoded fields.
// Wire format for task payloads is explicitly out of scope beyond this
// opaque-blob boundary; this envelope exists only so the reference
// adapters have something concrete to carry.
type payloadEnvelope struct {
	Payload Payload
}

func init() {
	gob.Register(&CommandPayload{})
}

// EncodePayload serializes p into a self-describing blob.
func EncodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payloadEnvelope{Payload: p}); err != nil {
		return nil, fmt.Errorf("replication: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload parses a blob produced by EncodePayload. The concrete
// payload type must have been registered with RegisterPayloadKind (or be
// one of this package's own types, registered in init).
func DecodePayload(data []byte) (Payload, error) {
	var env payloadEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("replication: decode payload: %w", err)
	}
	return env.Payload, nil
}

// RegisterPayloadKind makes a concrete Payload type decodable by
// DecodePayload. Applications that define their own Payload types must
// call this once at startup, the same way callers of encoding/gob always
// register concrete types behind an interface.
func RegisterPayloadKind(p Payload) { gob.Register(p) }

// CommandPayload is the reference Payload implementation: a single
// store.Instruction plus the timeout/quorum hints the coordinator needs.
// It is deliberately plain data with no captured closures so it survives
// the gob round trip described above.
type CommandPayload struct {
	Instr        store.Instruction
	Write        bool
	TotalMillis  int64
	SyncMillis   int64
	Strategy     ResultStrategy
	SourceNode   string
	UndoInstr    *store.Instruction
}

// NewCommandPayload builds a CommandPayload for instr. undo, if non-nil, is
// the compensating instruction invoked by Undo() on a quorum shortfall.
func NewCommandPayload(instr store.Instruction, write bool, undo *store.Instruction) *CommandPayload {
	return &CommandPayload{
		Instr:       instr,
		Write:       write,
		TotalMillis: 5000,
		SyncMillis:  1500,
		Strategy:    ResultFirst,
		UndoInstr:   undo,
	}
}

func (p *CommandPayload) IsWriteOperation() bool { return p.Write }

func (p *CommandPayload) TotalTimeout(nNodes int) time.Duration {
	return time.Duration(p.TotalMillis) * time.Millisecond
}

func (p *CommandPayload) SynchronousTimeout(expectedSync int) time.Duration {
	return time.Duration(p.SyncMillis) * time.Millisecond
}

func (p *CommandPayload) ResultStrategy() ResultStrategy { return p.Strategy }

func (p *CommandPayload) Execute(ctx store.ExecContext, engine store.Engine) (store.Value, error) {
	return engine.Execute(ctx, p.Instr)
}

// Undo marks that a quorum shortfall occurred by logging it. CommandPayload
// carries no engine reference of its own (it must survive a gob round
// trip), so this method does not apply UndoInstr, and nothing in this
// package replays it either; UndoInstruction exposes it to callers.
func (p *CommandPayload) Undo() {
	if p.UndoInstr == nil {
		log.Debugf("command payload for %s has no undo instruction, nothing to compensate", p.Instr.Key)
		return
	}
	log.Warningf("quorum shortfall on %s, compensating instruction %s is available for replay", p.Instr.Key, p.UndoInstr.Cmd)
}

// UndoInstruction returns the compensating instruction, if any, so a
// coordinator that wants to actually replay it against the local engine can
// do so after calling Undo.
func (p *CommandPayload) UndoInstruction() (store.Instruction, bool) {
	if p.UndoInstr == nil {
		return store.Instruction{}, false
	}
	return *p.UndoInstr, true
}

func (p *CommandPayload) SetSourceNode(node string) { p.SourceNode = node }

func (p *CommandPayload) Clone() Payload {
	clone := *p
	return &clone
}

var _ Payload = (*CommandPayload)(nil)
