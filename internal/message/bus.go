// Package message is the per-node message service (SPEC_FULL.md component
// C3): it resolves queue names, demultiplexes a node's single shared
// response queue into per-sender-thread inboxes, and tracks in-flight
// requests so stray or late responses can be dropped instead of misrouted.
//
// The inbox-per-thread idea mirrors the teacher's approach of keying
// in-flight distributed calls off the calling goroutine rather than a
// connection: here a "thread" is just a caller-chosen string id, since Go
// goroutines carry no identity of their own to key off of.
package message

import (
	"context"
	"fmt"
	"sync"

	"github.com/kuewdb/replicator/internal/logging"
	"github.com/kuewdb/replicator/internal/queuesub"
)

var log = logging.Get("message")

// Bus is the message service for one local node. It owns that node's
// response queue and demultiplexes it into inboxes registered by thread id.
type Bus struct {
	factory    queuesub.QueueFactory
	localNode  string

	mu       sync.Mutex
	inboxes  map[string]chan WireResponse
	inflight map[string]string // request_id -> sender_thread, for cross-talk filtering

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Bus for localNode backed by factory. Call Start before
// registering inboxes so responses have somewhere to land.
func New(factory queuesub.QueueFactory, localNode string) *Bus {
	return &Bus{
		factory:  factory,
		localNode: localNode,
		inboxes:  make(map[string]chan WireResponse),
		inflight: make(map[string]string),
	}
}

// RequestQueue resolves the inbound request queue for (node, database).
func (b *Bus) RequestQueue(node, database string) (queuesub.Queue, error) {
	return b.factory.Queue(RequestQueueName(node, database))
}

// ResponseQueue resolves the outbound response queue of the given node —
// i.e. where this node sends a response destined for node.
func (b *Bus) ResponseQueue(node string) (queuesub.Queue, error) {
	return b.factory.Queue(ResponseQueueName(node))
}

// Start launches the background goroutine draining this node's own response
// queue and routing each WireResponse to its destination thread's inbox. It
// returns once the drain loop has been spawned; Stop reverses it.
func (b *Bus) Start(ctx context.Context) error {
	queue, err := b.factory.Queue(ResponseQueueName(b.localNode))
	if err != nil {
		return fmt.Errorf("message: resolve local response queue: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.drain(runCtx, queue)
	return nil
}

// Stop cancels the drain loop and waits for it to exit.
func (b *Bus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Bus) drain(ctx context.Context, queue queuesub.Queue) {
	defer close(b.done)
	for {
		raw, err := queue.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("message bus %s: take from response queue: %v", b.localNode, err)
			continue
		}
		resp, err := DecodeResponse(raw)
		if err != nil {
			log.Errorf("message bus %s: decode response: %v", b.localNode, err)
			continue
		}
		b.route(resp)
	}
}

func (b *Bus) route(resp WireResponse) {
	b.mu.Lock()
	expectedThread, known := b.inflight[resp.RequestID]
	inbox, hasInbox := b.inboxes[resp.DestinationThread]
	b.mu.Unlock()

	if known && expectedThread != resp.DestinationThread {
		// Cross-talk: a response addressed to a thread that never
		// registered this request_id. Drop it rather than misroute it.
		log.Warningf("message bus %s: dropping response for request %s addressed to unexpected thread %s", b.localNode, resp.RequestID, resp.DestinationThread)
		return
	}
	if !hasInbox {
		log.Warningf("message bus %s: dropping response for request %s: no inbox registered for thread %s", b.localNode, resp.RequestID, resp.DestinationThread)
		return
	}

	select {
	case inbox <- resp:
	default:
		log.Warningf("message bus %s: inbox for thread %s is full, dropping response for request %s", b.localNode, resp.DestinationThread, resp.RequestID)
	}
}

// RegisterInbox creates (or replaces) the inbox for threadID with the given
// buffer size, one slot per node expected to respond is a reasonable size.
func (b *Bus) RegisterInbox(threadID string, buffer int) chan WireResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan WireResponse, buffer)
	b.inboxes[threadID] = ch
	return ch
}

// DeregisterInbox removes and closes threadID's inbox.
func (b *Bus) DeregisterInbox(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inboxes[threadID]; ok {
		delete(b.inboxes, threadID)
		close(ch)
	}
}

// RegisterRequest records that requestID is awaited by threadID, so a
// response bearing a different destination thread is recognized as
// cross-talk and dropped instead of misrouted.
func (b *Bus) RegisterRequest(requestID, threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight[requestID] = threadID
}

// DeregisterRequest forgets requestID once its ResponseManager is done
// waiting on it.
func (b *Bus) DeregisterRequest(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, requestID)
}
