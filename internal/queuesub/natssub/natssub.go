// Package natssub backs the named request/response queues with durable
// NATS JetStream streams and consumers, using work-queue (deliver-once)
// retention so concurrently-running receivers never double-take the same
// message.
//
// The stream/consumer shape here is adapted from the JetStream-backed
// cluster event bus in the corpus's fluxor reference file: one subject per
// logical queue, a durable pull consumer per subject, explicit ack as soon
// as Take or Poll has fetched a message (before the caller processes it).
package natssub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kuewdb/replicator/internal/queuesub"
)

// Config configures the JetStream-backed queue factory.
type Config struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Prefix is prepended to every JetStream stream/subject name so
	// multiple deployments can share a NATS cluster. Default: "orientdb".
	Prefix string

	// AckWait is how long JetStream waits for an ack before redelivering a
	// message to another pull, bounding how long a crashed receiver can
	// hold a message before it is retried elsewhere.
	AckWait time.Duration

	// MaxAckPending bounds in-flight, unacked messages per consumer.
	MaxAckPending int
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "orientdb"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 1024
	}
	return c
}

// Factory resolves queuesub.Queue instances backed by JetStream streams.
type Factory struct {
	cfg  Config
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Dial connects to the configured NATS server and returns a ready Factory.
func Dial(cfg Config) (*Factory, error) {
	cfg = cfg.withDefaults()
	conn, err := nats.Connect(cfg.URL, nats.Name("replicator"))
	if err != nil {
		return nil, fmt.Errorf("natssub: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natssub: jetstream context: %w", err)
	}
	return &Factory{cfg: cfg, conn: conn, js: js}, nil
}

// Close closes the underlying NATS connection.
func (f *Factory) Close() {
	f.conn.Close()
}

func (f *Factory) subject(name string) string {
	return f.cfg.Prefix + "." + sanitize(name)
}

func (f *Factory) streamName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(f.cfg.Prefix+"_"+sanitize(name), ".", "_"))
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

func (f *Factory) Queue(name string) (queuesub.Queue, error) {
	subject := f.subject(name)
	stream := f.streamName(name)

	_, err := f.js.StreamInfo(stream)
	if err != nil {
		_, err = f.js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("natssub: add stream %v: %w", stream, err)
		}
	}

	consumer := stream + "_CONSUMER"
	sub, err := f.js.PullSubscribe(subject, consumer, nats.AckWait(f.cfg.AckWait), nats.MaxAckPending(f.cfg.MaxAckPending))
	if err != nil {
		return nil, fmt.Errorf("natssub: pull subscribe %v: %w", subject, err)
	}

	return &jsQueue{js: f.js, subject: subject, sub: sub}, nil
}

// jsQueue adapts a JetStream pull subscription to queuesub.Queue.
type jsQueue struct {
	js      nats.JetStreamContext
	subject string
	sub     *nats.Subscription
}

func (q *jsQueue) Offer(ctx context.Context, payload []byte, timeout time.Duration) (bool, error) {
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := q.js.Publish(q.subject, payload, nats.Context(pubCtx))
	if err != nil {
		if pubCtx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("natssub: publish to %v: %w", q.subject, err)
	}
	return true, nil
}

func (q *jsQueue) Take(ctx context.Context) ([]byte, error) {
	for {
		msgs, err := q.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nats.ErrTimeout {
				continue
			}
			return nil, fmt.Errorf("natssub: fetch from %v: %w", q.subject, err)
		}
		msg := msgs[0]
		if err := msg.Ack(); err != nil {
			return nil, fmt.Errorf("natssub: ack %v: %w", q.subject, err)
		}
		return msg.Data, nil
	}
}

func (q *jsQueue) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs, err := q.sub.Fetch(1, nats.Context(pollCtx))
	if err != nil {
		if err == nats.ErrTimeout || pollCtx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natssub: fetch from %v: %w", q.subject, err)
	}
	msg := msgs[0]
	if err := msg.Ack(); err != nil {
		return nil, false, fmt.Errorf("natssub: ack %v: %w", q.subject, err)
	}
	return msg.Data, true, nil
}

func (q *jsQueue) Close() error {
	return q.sub.Unsubscribe()
}

var _ queuesub.QueueFactory = (*Factory)(nil)
