package main

import (
	"fmt"

	"github.com/kuewdb/replicator/internal/queuesub"
	"github.com/kuewdb/replicator/internal/queuesub/memsub"
	"github.com/kuewdb/replicator/internal/queuesub/natssub"
	"github.com/kuewdb/replicator/internal/queuesub/redissub"
)

// distributedSubstrate composes the NATS-backed queue factory with the
// Redis-backed map/lock factory into the single queuesub.Substrate the
// coordinator expects, since neither adapter alone covers all three
// concerns (SPEC_FULL.md §10).
type distributedSubstrate struct {
	queues *natssub.Factory
	maps   *redissub.Factory
}

func (s *distributedSubstrate) Queue(name string) (queuesub.Queue, error) { return s.queues.Queue(name) }
func (s *distributedSubstrate) Map(name string) (queuesub.KeyedMap, error) { return s.maps.Map(name) }
func (s *distributedSubstrate) Lock(name string) (queuesub.Lock, error)    { return s.maps.Lock(name) }

func (s *distributedSubstrate) Close() {
	s.queues.Close()
	s.maps.Close()
}

var _ queuesub.Substrate = (*distributedSubstrate)(nil)

// closer is satisfied by any substrate that holds real network connections
// and needs an explicit teardown on shutdown.
type closer interface {
	Close()
}

// buildSubstrate wires the backend named by cfg. "memory" (the default) is
// the in-process reference substrate used for local development and tests;
// "distributed" wires the network-backed adapters.
func buildSubstrate(cfg backendConfig) (queuesub.Substrate, closer, error) {
	switch cfg.Kind {
	case "", "memory":
		return memsub.New(256), nil, nil
	case "distributed":
		if cfg.NATS == "" || cfg.Redis == "" {
			return nil, nil, fmt.Errorf("replicatord: distributed backend requires both natsURL and redisAddr")
		}
		queues, err := natssub.Dial(natssub.Config{URL: cfg.NATS})
		if err != nil {
			return nil, nil, fmt.Errorf("replicatord: dial nats: %w", err)
		}
		maps := redissub.New(redissub.Config{Addr: cfg.Redis})
		sub := &distributedSubstrate{queues: queues, maps: maps}
		return sub, sub, nil
	default:
		return nil, nil, fmt.Errorf("replicatord: unknown backend kind %q", cfg.Kind)
	}
}
