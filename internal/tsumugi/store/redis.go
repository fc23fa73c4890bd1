// Package store provides the Redis adapter that owns all durable state:
// the global spend counter, per-persona configuration hashes, and
// per-persona message history.
//
// All writes are last-write-wins per key and self-contained; the adapter
// offers no cross-key transactions. One client is shared across all turns.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Logical key layout. One key per concern, hashes keyed by persona key.
const (
	KeyTotalTokenCount       = "tsumugi:openai:total-token-count"
	KeyPersonaTriggerWords   = "tsumugi:openai:persona:trigger-words"
	KeyPersonaNames          = "tsumugi:openai:persona:names"
	KeyPersonaSystemMessages = "tsumugi:openai:persona:system-messages"
	KeyPersonaResetMessages  = "tsumugi:openai:persona:reset-messages"
	KeyMessageHistory        = "tsumugi:openai:message-history"
	KeyMatrixSyncState       = "tsumugi:matrix:sync-state"
)

// ErrNotFound mirrors redis.Nil so callers never import go-redis directly.
var ErrNotFound = errors.New("store: key not found")

// Store wraps a go-redis client to centralize configuration and key naming.
type Store struct {
	inner *redis.Client
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{inner: client}, nil
}

// Get fetches a string key. Returns ErrNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.inner.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// Set stores a string key without expiry.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.inner.Set(ctx, key, value, 0).Err()
}

// IncrBy atomically adds delta to an integer key, creating it at zero first.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) error {
	return s.inner.IncrBy(ctx, key, delta).Err()
}

// HGet fetches one field of a hash. Returns ErrNotFound when the field or
// hash does not exist.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.inner.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// HSet stores one field of a hash.
func (s *Store) HSet(ctx context.Context, key, field string, value any) error {
	return s.inner.HSet(ctx, key, field, value).Err()
}

// HExists reports whether a hash field exists.
func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	return s.inner.HExists(ctx, key, field).Result()
}

// HGetAll fetches all fields of a hash. An empty map is returned for a
// missing hash, matching Redis semantics.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.inner.HGetAll(ctx, key).Result()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.inner.Close()
}
