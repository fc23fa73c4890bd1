package matrix

// syncstore.go implements mautrix.SyncStore backed by the relay's Redis
// store. Persisting the next_batch token across restarts prevents the bot
// from replaying old room history and re-answering mentions that were
// already handled in a previous run.

import (
	"context"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// Compile-time assertion that RedisSyncStore satisfies mautrix.SyncStore.
var _ mautrix.SyncStore = (*RedisSyncStore)(nil)

// RedisSyncStore stores each value as a field of a single Redis hash keyed
// by "user_id/key".
type RedisSyncStore struct {
	store *store.Store
}

// NewRedisSyncStore creates a RedisSyncStore backed by s.
func NewRedisSyncStore(s *store.Store) *RedisSyncStore {
	return &RedisSyncStore{store: s}
}

// SaveFilterID persists the Matrix event-filter ID for the given user.
func (s *RedisSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.saveKey(ctx, userID.String(), "filter_id", filterID)
}

// LoadFilterID retrieves the persisted event-filter ID for the given user.
// Returns ("", nil) when no filter has been saved yet.
func (s *RedisSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadKey(ctx, userID.String(), "filter_id")
}

// SaveNextBatch persists the opaque /sync next_batch token so the bot can
// resume from the correct position after a restart.
func (s *RedisSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.saveKey(ctx, userID.String(), "next_batch", nextBatchToken)
}

// LoadNextBatch retrieves the last saved next_batch token.
// Returns ("", nil) when no token has been saved yet (first run).
func (s *RedisSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadKey(ctx, userID.String(), "next_batch")
}

func (s *RedisSyncStore) saveKey(ctx context.Context, userID, key, value string) error {
	return s.store.HSet(ctx, store.KeyMatrixSyncState, userID+"/"+key, value)
}

func (s *RedisSyncStore) loadKey(ctx context.Context, userID, key string) (string, error) {
	v, err := s.store.HGet(ctx, store.KeyMatrixSyncState, userID+"/"+key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return v, err
}
