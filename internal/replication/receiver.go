package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/queuesub"
	"github.com/kuewdb/replicator/internal/store"
)

// receiverState names the inbound worker's state machine (SPEC_FULL.md
// §4.3): Idle -> Taking -> Executing -> Acknowledging -> Idle, with
// Interrupted reached only on shutdown.
type receiverState int

const (
	stateIdle receiverState = iota
	stateTaking
	stateExecuting
	stateAcknowledging
	stateInterrupted
)

// Receiver is the single long-lived inbound worker for one (node, database)
// pair (component C6). It never consumes responses; those are routed by
// the message bus to the originating sender thread's inbox.
type Receiver struct {
	localNode    string
	database     string
	engine       store.Engine
	bus          *message.Bus
	undoMaps     queuesub.MapFactory
	queueTimeout time.Duration

	state receiverState
	done  chan struct{}
}

// ReceiverConfig groups a Receiver's collaborators.
type ReceiverConfig struct {
	LocalNode    string
	Database     string
	Engine       store.Engine
	Bus          *message.Bus
	UndoMaps     queuesub.MapFactory
	QueueTimeout time.Duration
}

// NewReceiver constructs a Receiver for (LocalNode, Database).
func NewReceiver(cfg ReceiverConfig) *Receiver {
	timeout := cfg.QueueTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Receiver{
		localNode:    cfg.LocalNode,
		database:     cfg.Database,
		engine:       cfg.Engine,
		bus:          cfg.Bus,
		undoMaps:     cfg.UndoMaps,
		queueTimeout: timeout,
		state:        stateIdle,
		done:         make(chan struct{}),
	}
}

// Run drains the local request queue until ctx is canceled. It is meant to
// be launched in its own goroutine; cancellation is how shutdown replaces
// the donor's thread-interruption signal (SPEC_FULL.md §11).
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.done)

	queue, err := r.bus.RequestQueue(r.localNode, r.database)
	if err != nil {
		return fmt.Errorf("replication: resolve request queue for %s/%s: %w", r.localNode, r.database, err)
	}
	undoMap, err := r.undoMaps.Map(message.UndoMapName(r.localNode, r.database))
	if err != nil {
		return fmt.Errorf("replication: resolve undo map for %s/%s: %w", r.localNode, r.database, err)
	}

	for {
		r.state = stateTaking
		raw, err := queue.Take(ctx)
		if err != nil {
			r.state = stateInterrupted
			return nil
		}

		if err := r.handle(ctx, raw, undoMap); err != nil {
			log.Errorf("receiver %s/%s: %v", r.localNode, r.database, err)
		}
		r.state = stateIdle
	}
}

// Wait blocks until Run has returned, the receiver's half of the
// shutdown handshake (SPEC_FULL.md §11: "acknowledges stop before
// shutdown() returns").
func (r *Receiver) Wait() {
	if r.done != nil {
		<-r.done
	}
}

func (r *Receiver) handle(ctx context.Context, raw []byte, undoMap queuesub.KeyedMap) error {
	wire, err := message.DecodeRequest(raw)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	if err := undoMap.Put(ctx, r.database, raw); err != nil {
		return fmt.Errorf("persist undo slot: %w", err)
	}

	resp, err := r.execute(ctx, wire)
	if err != nil {
		// Execution failures propagate before the undo slot is cleared: the
		// slot stays populated so crash recovery re-executes this request
		// on next startup (SPEC_FULL.md §4.3 step 5, §7 ExecutionError). No
		// response is shipped for this attempt.
		return &ExecutionError{Cause: err}
	}

	if err := r.ship(ctx, wire, resp); err != nil {
		return DispatchError(err.Error())
	}

	if _, _, err := undoMap.Remove(ctx, r.database); err != nil {
		return fmt.Errorf("clear undo slot: %w", err)
	}
	return nil
}

// execute runs §4.3 step 3: mark the distributed scenario, run the
// payload, clear the first-level cache afterward regardless of outcome. A
// non-nil error means the payload itself could not be decoded or run; the
// caller must leave the undo slot populated and skip shipping a response.
func (r *Receiver) execute(_ context.Context, wire message.WireRequest) (message.WireResponse, error) {
	r.state = stateExecuting

	resp := message.WireResponse{
		RequestID:         wire.RequestID,
		ResponderNode:     r.localNode,
		DestinationNode:   wire.SenderNode,
		DestinationThread: wire.SenderThread,
	}

	payload, err := DecodePayload(wire.PayloadBlob)
	if err != nil {
		return message.WireResponse{}, err
	}

	execCtx := store.ExecContext{Database: wire.Database, Distributed: true}
	value, err := payload.Execute(execCtx, r.engine)
	r.engine.ClearFirstLevelCache()
	if err != nil {
		return message.WireResponse{}, err
	}
	if value != nil {
		blob, encErr := store.EncodeValue(value)
		if encErr != nil {
			return message.WireResponse{}, encErr
		}
		resp.ResultBlob = blob
	}
	return resp, nil
}

func (r *Receiver) ship(ctx context.Context, wire message.WireRequest, resp message.WireResponse) error {
	r.state = stateAcknowledging
	queue, err := r.bus.ResponseQueue(wire.SenderNode)
	if err != nil {
		return fmt.Errorf("resolve response queue for %s: %w", wire.SenderNode, err)
	}
	raw, err := message.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	ok, err := queue.Offer(ctx, raw, r.queueTimeout)
	if err != nil {
		return fmt.Errorf("offer response: %w", err)
	}
	if !ok {
		return fmt.Errorf("offer response to %s timed out", wire.SenderNode)
	}
	return nil
}
