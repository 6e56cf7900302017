package memsub

import (
	"context"
	"testing"
	"time"
)

func TestQueueOfferTake(t *testing.T) {
	s := New(4)
	q, err := s.Queue("orientdb.node.A.db0.request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	ok, err := q.Offer(ctx, []byte("hello"), time.Second)
	if err != nil || !ok {
		t.Fatalf("expected offer to succeed, got ok=%v err=%v", ok, err)
	}

	msg, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("expected to take back %q, got %q", "hello", msg)
	}
}

func TestQueueIsFIFO(t *testing.T) {
	s := New(4)
	q, _ := s.Queue("q")
	ctx := context.Background()
	for _, m := range []string{"a", "b", "c"} {
		if _, err := q.Offer(ctx, []byte(m), time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != want {
			t.Errorf("expected FIFO order, wanted %q got %q", want, got)
		}
	}
}

func TestQueuePollTimesOutWithoutError(t *testing.T) {
	s := New(4)
	q, _ := s.Queue("q")
	_, ok, err := q.Poll(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected poll on an empty queue to time out, not succeed")
	}
}

func TestQueueSameNameReturnsSameQueue(t *testing.T) {
	s := New(4)
	q1, _ := s.Queue("same")
	q2, _ := s.Queue("same")

	ctx := context.Background()
	q1.Offer(ctx, []byte("x"), time.Second)
	msg, err := q2.Take(ctx)
	if err != nil || string(msg) != "x" {
		t.Errorf("expected resolving the same queue name twice to return the same queue")
	}
}

func TestKeyedMapPutGetRemove(t *testing.T) {
	s := New(4)
	m, _ := s.Map("orientdb.node.A.db0.undo")
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "db0"); ok {
		t.Errorf("expected empty map to have no value for db0")
	}

	if err := m.Put(ctx, "db0", []byte("req1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok, err := m.Get(ctx, "db0")
	if err != nil || !ok || string(v) != "req1" {
		t.Errorf("expected to read back req1, got ok=%v v=%q err=%v", ok, v, err)
	}

	removed, ok, err := m.Remove(ctx, "db0")
	if err != nil || !ok || string(removed) != "req1" {
		t.Errorf("expected remove to return req1, got ok=%v v=%q err=%v", ok, removed, err)
	}

	if _, ok, _ := m.Get(ctx, "db0"); ok {
		t.Errorf("expected map to be empty after remove")
	}
}

func TestLockMutualExclusion(t *testing.T) {
	s := New(4)
	l, _ := s.Lock("orientdb.reqlock.db0")
	ctx := context.Background()

	if err := l.Lock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		subCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := l.Lock(subCtx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Errorf("expected a second lock attempt to block while the first holder has not unlocked")
	case <-time.After(75 * time.Millisecond):
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("unexpected error unlocking: %v", err)
	}
}

func TestUnlockWithoutLockErrors(t *testing.T) {
	s := New(4)
	l, _ := s.Lock("l")
	if err := l.Unlock(); err == nil {
		t.Errorf("expected unlocking an unheld lock to error")
	}
}
