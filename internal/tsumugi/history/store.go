package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// HashStore is the subset of the Redis adapter the history log needs.
type HashStore interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field string, value any) error
	HExists(ctx context.Context, key, field string) (bool, error)
}

// Log persists per-persona conversation history as a JSON array in a single
// Redis hash keyed by persona. Writes are whole-value last-write-wins: two
// concurrent turns for the same persona can interleave their
// read-modify-write and the second write silently drops the first turn's
// appended messages. Accepted best-effort behavior, not a bug to fix here.
type Log struct {
	store HashStore
	// EntryLimit caps stored entries per persona, oldest dropped first.
	entryLimit int
}

// NewLog creates a history Log with the given per-persona entry cap.
func NewLog(s HashStore, entryLimit int) *Log {
	return &Log{store: s, entryLimit: entryLimit}
}

// Load returns the persona's stored history, oldest first. A persona with no
// history entry gets an empty one created; this is the only place
// conversation state is initialized.
func (l *Log) Load(ctx context.Context, personaKey string) ([]llm.Message, error) {
	exists, err := l.store.HExists(ctx, store.KeyMessageHistory, personaKey)
	if err != nil {
		return nil, fmt.Errorf("check history for %q: %w", personaKey, err)
	}
	if !exists {
		if err := l.store.HSet(ctx, store.KeyMessageHistory, personaKey, "[]"); err != nil {
			return nil, fmt.Errorf("init history for %q: %w", personaKey, err)
		}
		return nil, nil
	}

	raw, err := l.store.HGet(ctx, store.KeyMessageHistory, personaKey)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", personaKey, err)
	}
	var msgs []llm.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode history for %q: %w", personaKey, err)
	}
	return msgs, nil
}

// Append adds the turn's prompt and answer to prior history, trims the
// result to the entry cap (oldest dropped first), and writes it back.
func (l *Log) Append(ctx context.Context, personaKey string, prior []llm.Message, prompt, answer llm.Message) error {
	updated := make([]llm.Message, 0, len(prior)+2)
	updated = append(updated, prior...)
	updated = append(updated, prompt, answer)
	updated = CapRecent(updated, l.entryLimit)

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode history for %q: %w", personaKey, err)
	}
	if err := l.store.HSet(ctx, store.KeyMessageHistory, personaKey, string(data)); err != nil {
		return fmt.Errorf("save history for %q: %w", personaKey, err)
	}
	return nil
}
