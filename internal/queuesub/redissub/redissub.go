// Package redissub backs the cluster-visible undo-slot keyed map and the
// cluster-wide named lock with Redis, using github.com/go-redis/redis/v8:
// HSET/HGET/HDEL on one hash per map, and "SET key value NX" for the lock, the
// standard Redis single-instance mutual-exclusion idiom.
package redissub

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kuewdb/replicator/internal/queuesub"
)

// Factory resolves queuesub.KeyedMap and queuesub.Lock instances backed by
// a single Redis client.
type Factory struct {
	client *redis.Client
	prefix string
}

// Config configures the Redis-backed factory.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key this factory touches. Default: "orientdb".
	Prefix string
}

// New constructs a Factory from cfg. It does not eagerly connect; the first
// call against the returned client establishes the connection.
func New(cfg Config) *Factory {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "orientdb"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Factory{client: client, prefix: prefix}
}

// Close releases the underlying Redis client's connections.
func (f *Factory) Close() error {
	return f.client.Close()
}

func (f *Factory) key(name string) string {
	return f.prefix + ":" + name
}

func (f *Factory) Map(name string) (queuesub.KeyedMap, error) {
	return &redisMap{client: f.client, hashKey: f.key(name)}, nil
}

func (f *Factory) Lock(name string) (queuesub.Lock, error) {
	return &redisLock{client: f.client, key: f.key(name), ttl: 30 * time.Second}, nil
}

var _ queuesub.MapFactory = (*Factory)(nil)
var _ queuesub.LockFactory = (*Factory)(nil)

// redisMap stores every key of the logical map as a field of a single
// Redis hash named hashKey, so Put/Get/Remove map directly onto
// HSET/HGET/HDEL without key-scanning.
type redisMap struct {
	client  *redis.Client
	hashKey string
}

func (m *redisMap) Put(ctx context.Context, key string, value []byte) error {
	return m.client.HSet(ctx, m.hashKey, key, value).Err()
}

func (m *redisMap) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := m.client.HGet(ctx, m.hashKey, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redissub: hget %v/%v: %w", m.hashKey, key, err)
	}
	return v, true, nil
}

// Remove reads and deletes the field in one MULTI/EXEC transaction, so no
// other client's write can land between the read and the delete.
func (m *redisMap) Remove(ctx context.Context, key string) ([]byte, bool, error) {
	var get *redis.StringCmd
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, m.hashKey, key)
		pipe.HDel(ctx, m.hashKey, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("redissub: hget/hdel %v/%v: %w", m.hashKey, key, err)
	}
	v, err := get.Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redissub: hget %v/%v: %w", m.hashKey, key, err)
	}
	return v, true, nil
}

// redisLock implements the cluster-wide named lock with SET NX for
// acquisition and a Lua-free delete-if-owner for release. It is not
// reentrant: Go has no ambient thread identity to key reentrancy off of, so
// a second Lock call from the same process blocks like any other
// contender.
type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func (l *redisLock) Lock(ctx context.Context) error {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	backoff := 10 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("redissub: setnx %v: %w", l.key, err)
		}
		if ok {
			l.token = token
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *redisLock) Unlock() error {
	ctx := context.Background()
	cur, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return fmt.Errorf("redissub: unlock of a lock that is not held")
	}
	if err != nil {
		return fmt.Errorf("redissub: get %v: %w", l.key, err)
	}
	if cur != l.token {
		return fmt.Errorf("redissub: unlock called by a non-owner of %v", l.key)
	}
	return l.client.Del(ctx, l.key).Err()
}
