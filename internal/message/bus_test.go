package message

import (
	"context"
	"testing"
	"time"

	"github.com/kuewdb/replicator/internal/queuesub/memsub"
)

func TestNamingIsStable(t *testing.T) {
	if got, want := RequestQueueName("A", "db0"), "orientdb.node.A.db0.request"; got != want {
		t.Errorf("RequestQueueName() = %q, want %q", got, want)
	}
	if got, want := ResponseQueueName("A"), "orientdb.node.A.response"; got != want {
		t.Errorf("ResponseQueueName() = %q, want %q", got, want)
	}
}

func TestWireRequestRoundTrip(t *testing.T) {
	req := WireRequest{
		RequestID:    "r1",
		SenderNode:   "A",
		SenderThread: "t1",
		Database:     "db0",
		Cluster:      "default",
		IsWrite:      true,
		ExpectedSync: 2,
		PayloadBlob:  []byte("payload"),
	}
	blob, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := DecodeRequest(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != req {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestBusRoutesResponseToRegisteredInbox(t *testing.T) {
	sub := memsub.New(8)
	bus := New(sub, "A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bus.Stop()

	bus.RegisterRequest("r1", "t1")
	inbox := bus.RegisterInbox("t1", 4)
	defer bus.DeregisterInbox("t1")

	respQueue, err := bus.ResponseQueue("A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blob, err := EncodeResponse(WireResponse{
		RequestID:         "r1",
		ResponderNode:     "B",
		DestinationNode:   "A",
		DestinationThread: "t1",
		ResultBlob:        []byte("ok"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := respQueue.Offer(ctx, blob, time.Second); err != nil || !ok {
		t.Fatalf("expected offer to succeed, got ok=%v err=%v", ok, err)
	}

	select {
	case resp := <-inbox:
		if resp.RequestID != "r1" || string(resp.ResultBlob) != "ok" {
			t.Errorf("unexpected response delivered: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response to be routed to inbox")
	}
}

func TestBusDropsCrossTalkResponse(t *testing.T) {
	sub := memsub.New(8)
	bus := New(sub, "A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bus.Stop()

	bus.RegisterRequest("r1", "t1")
	inboxT1 := bus.RegisterInbox("t1", 4)
	inboxT2 := bus.RegisterInbox("t2", 4)
	defer bus.DeregisterInbox("t1")
	defer bus.DeregisterInbox("t2")

	respQueue, _ := bus.ResponseQueue("A")
	blob, _ := EncodeResponse(WireResponse{
		RequestID:         "r1",
		DestinationNode:   "A",
		DestinationThread: "t2", // t1 registered this request, not t2
	})
	respQueue.Offer(ctx, blob, time.Second)

	select {
	case <-inboxT2:
		t.Fatal("expected cross-talk response to be dropped, not delivered to t2")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-inboxT1:
		t.Fatal("expected cross-talk response to be dropped, not delivered to t1 either")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestDeregisterRequestForgetsExpectedThread(t *testing.T) {
	sub := memsub.New(8)
	bus := New(sub, "A")
	bus.RegisterRequest("r1", "t1")
	bus.DeregisterRequest("r1")

	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bus.Stop()

	inbox := bus.RegisterInbox("t2", 4)
	defer bus.DeregisterInbox("t2")

	respQueue, _ := bus.ResponseQueue("A")
	blob, _ := EncodeResponse(WireResponse{RequestID: "r1", DestinationThread: "t2"})
	respQueue.Offer(ctx, blob, time.Second)

	select {
	case resp := <-inbox:
		if resp.RequestID != "r1" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected response for a forgotten request id to route by destination thread alone")
	}
}
