package replication

import (
	"context"
	"testing"
	"time"

	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/queuesub/memsub"
	"github.com/kuewdb/replicator/internal/store"
)

// Scenario 5 (SPEC_FULL.md §8): crash recovery. A request is left in the
// undo slot as if the node crashed mid-execution (populated, never
// cleared); RecoverUndoSlot must replay it and clear the slot, without a
// Receiver ever having run.
func TestRecoverUndoSlotReplaysStrandedRequest(t *testing.T) {
	sub := memsub.New(16)
	engine := store.NewMemEngine()
	if err := engine.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}

	bus := message.New(sub, "A")
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer bus.Stop()

	payload := NewCommandPayload(store.Instruction{
		Cmd:       "SET",
		Key:       "stranded",
		Args:      []string{"v1"},
		Timestamp: time.Unix(500, 0),
	}, true, nil)
	blob, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	wire := message.WireRequest{
		RequestID:    "crash-req-1",
		SenderNode:   "A",
		SenderThread: "thread-1",
		Database:     "db0",
		IsWrite:      true,
		ExpectedSync: 1,
		PayloadBlob:  blob,
	}
	raw, err := message.EncodeRequest(wire)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	undoMap, err := sub.Map(message.UndoMapName("A", "db0"))
	if err != nil {
		t.Fatalf("resolve undo map: %v", err)
	}
	ctx := context.Background()
	if err := undoMap.Put(ctx, "db0", raw); err != nil {
		t.Fatalf("seed undo slot: %v", err)
	}

	// thread-1's inbox on A must be registered before recovery ships the
	// replayed response (the request's sender is A itself); the bus drops
	// responses addressed to a thread with no inbox.
	inbox := bus.RegisterInbox("thread-1", 2)
	defer bus.DeregisterInbox("thread-1")

	RecoverUndoSlot(ctx, "A", "db0", engine, bus, sub, time.Second)

	if _, ok, _ := undoMap.Get(ctx, "db0"); ok {
		t.Error("expected undo slot to be cleared after recovery replay")
	}

	v, err := engine.Execute(store.ExecContext{}, store.Instruction{Cmd: "GET", Key: "stranded"})
	if err != nil {
		t.Fatalf("unexpected error reading replayed key: %v", err)
	}
	if v == nil {
		t.Fatal("expected the stranded instruction to have been replayed into the engine")
	}

	select {
	case resp := <-inbox:
		if resp.RequestID != "crash-req-1" {
			t.Errorf("expected a response for crash-req-1, got %s", resp.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the replayed response to be shipped")
	}
}

// RecoverUndoSlot must be a no-op (no replay, no error) when the undo slot
// is empty, matching the common case of a clean shutdown.
func TestRecoverUndoSlotNoOpWhenEmpty(t *testing.T) {
	sub := memsub.New(16)
	engine := store.NewMemEngine()
	bus := message.New(sub, "A")
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer bus.Stop()

	RecoverUndoSlot(context.Background(), "A", "db0", engine, bus, sub, time.Second)

	if len(engine.Keys()) != 0 {
		t.Error("expected no keys to be written when the undo slot was empty")
	}
}

// An execution failure must leave the undo slot populated and ship no
// response, so crash recovery replays the request on next startup
// (SPEC_FULL.md §4.3 step 5, §7 ExecutionError, §8 invariant: "the undo slot
// contains a value iff an inbound request has been taken but not yet
// acknowledged").
func TestReceiverHandleLeavesUndoSlotPopulatedOnExecutionFailure(t *testing.T) {
	sub := memsub.New(16)
	engine := store.NewMemEngine()
	bus := message.New(sub, "A")
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer bus.Stop()

	r := NewReceiver(ReceiverConfig{
		LocalNode:    "A",
		Database:     "db0",
		Engine:       engine,
		Bus:          bus,
		UndoMaps:     sub,
		QueueTimeout: time.Second,
	})

	// A SET with no value argument fails inside MemEngine.Execute ("store:
	// SET requires a value argument"), so payload.Execute returns an error.
	payload := NewCommandPayload(store.Instruction{
		Cmd: "SET", Key: "k1", Args: nil, Timestamp: time.Unix(1, 0),
	}, true, nil)
	blob, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	wire := message.WireRequest{
		RequestID: "req-fail", SenderNode: "A", SenderThread: "thread-1",
		Database: "db0", IsWrite: true, ExpectedSync: 1, PayloadBlob: blob,
	}
	raw, err := message.EncodeRequest(wire)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	undoMap, err := sub.Map(message.UndoMapName("A", "db0"))
	if err != nil {
		t.Fatalf("resolve undo map: %v", err)
	}
	ctx := context.Background()

	inbox := bus.RegisterInbox("thread-1", 2)
	defer bus.DeregisterInbox("thread-1")

	err = r.handle(ctx, raw, undoMap)
	if err == nil {
		t.Fatal("expected handle to report the execution failure")
	}
	if _, ok := err.(*ExecutionError); !ok {
		t.Errorf("expected an *ExecutionError, got %T: %v", err, err)
	}

	if _, ok, _ := undoMap.Get(ctx, "db0"); !ok {
		t.Error("expected the undo slot to remain populated after an execution failure")
	}

	select {
	case resp := <-inbox:
		t.Errorf("expected no response to be shipped for a failed execution, got %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}
}

// The Receiver's own happy path: a request taken off the request queue is
// executed, its undo slot is cleared, and a response is shipped back.
func TestReceiverHandlesOneRequestEndToEnd(t *testing.T) {
	sub := memsub.New(16)
	engine := store.NewMemEngine()
	bus := message.New(sub, "A")
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer bus.Stop()

	r := NewReceiver(ReceiverConfig{
		LocalNode:    "A",
		Database:     "db0",
		Engine:       engine,
		Bus:          bus,
		UndoMaps:     sub,
		QueueTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	inbox := bus.RegisterInbox("thread-1", 2)
	defer bus.DeregisterInbox("thread-1")

	payload := NewCommandPayload(store.Instruction{
		Cmd: "SET", Key: "k1", Args: []string{"v1"}, Timestamp: time.Unix(1, 0),
	}, true, nil)
	blob, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	wire := message.WireRequest{
		RequestID: "req-1", SenderNode: "A", SenderThread: "thread-1",
		Database: "db0", IsWrite: true, ExpectedSync: 1, PayloadBlob: blob,
	}
	raw, err := message.EncodeRequest(wire)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	queue, err := bus.RequestQueue("A", "db0")
	if err != nil {
		t.Fatalf("resolve request queue: %v", err)
	}
	if ok, err := queue.Offer(ctx, raw, time.Second); err != nil || !ok {
		t.Fatalf("offer request: ok=%v err=%v", ok, err)
	}

	select {
	case resp := <-inbox:
		if resp.RequestID != "req-1" {
			t.Errorf("expected response for req-1, got %s", resp.RequestID)
		}
		if resp.ErrMessage != "" {
			t.Errorf("unexpected error in response: %s", resp.ErrMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the receiver's response")
	}

	undoMap, err := sub.Map(message.UndoMapName("A", "db0"))
	if err != nil {
		t.Fatalf("resolve undo map: %v", err)
	}
	if _, ok, _ := undoMap.Get(context.Background(), "db0"); ok {
		t.Error("expected the undo slot to be cleared after a successful execute+ship")
	}

	cancel()
	<-done
}
