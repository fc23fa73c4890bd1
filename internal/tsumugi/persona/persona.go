// Package persona selects and loads the conversational persona applied to an
// inbound message.
//
// A persona is a named bundle of trigger words, a display name, a fixed
// system message, and a fixed "reset" assistant message that anchors the
// model's identity right before the user prompt. Persona fields live in
// Redis hashes so operators can edit them at runtime without a restart.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// DefaultKey is the persona used when no trigger word matches.
const DefaultKey = "default"

// ErrNotConfigured is returned by Load when a persona exists (or was just
// placeholder-initialized) but lacks one or more required fields. Distinct
// from a store miss: the turn must be rejected with a diagnostic.
var ErrNotConfigured = errors.New("persona not configured")

// Persona is a fully configured persona ready for a completion request.
type Persona struct {
	Key         string
	DisplayName string
	// SystemMessage is always the first element of a completion request.
	SystemMessage llm.Message
	// ResetMessage is always placed immediately before the user prompt to
	// keep the model from drifting back to its stock behavior.
	ResetMessage llm.Message
}

// Store is the subset of the Redis adapter the resolver needs. Defined as an
// interface so the resolver can be unit-tested against a fake.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field string, value any) error
	HExists(ctx context.Context, key, field string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Resolver picks and loads personas from the store.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the persona key selected by text.
//
// Every configured persona's trigger-word list is examined in lexically
// sorted key order; when a list contains a word that appears as a substring
// of text, that persona becomes the candidate. The LAST matching persona in
// enumeration order wins, not the first and not the longest match. The full
// reduction (rather than a short-circuiting search) keeps the tie-break
// auditable. When nothing matches, DefaultKey is returned.
//
// A store failure here is absorbed: without the trigger map the only safe
// answer is the default persona.
func (r *Resolver) Resolve(ctx context.Context, text string) string {
	triggerMap, err := r.store.HGetAll(ctx, store.KeyPersonaTriggerWords)
	if err != nil {
		slog.Warn("persona: failed to load trigger words, using default", "err", err)
		return DefaultKey
	}

	keys := make([]string, 0, len(triggerMap))
	for k := range triggerMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	selected := DefaultKey
	for _, key := range keys {
		var words []string
		if err := json.Unmarshal([]byte(triggerMap[key]), &words); err != nil {
			slog.Warn("persona: malformed trigger-word list, skipping", "persona", key, "err", err)
			continue
		}
		for _, word := range words {
			if word != "" && strings.Contains(text, word) {
				selected = key
				break
			}
		}
	}
	return selected
}

// Load fetches the persona's display name, system message, and reset message.
// Missing fields are placeholder-initialized via EnsureInitialized and the
// persona is reported as not configured; the caller must abort the turn.
func (r *Resolver) Load(ctx context.Context, key string) (*Persona, error) {
	name, err := r.hgetOrEmpty(ctx, store.KeyPersonaNames, key)
	if err != nil {
		return nil, fmt.Errorf("load persona %q name: %w", key, err)
	}
	system, err := r.hgetOrEmpty(ctx, store.KeyPersonaSystemMessages, key)
	if err != nil {
		return nil, fmt.Errorf("load persona %q system message: %w", key, err)
	}
	reset, err := r.hgetOrEmpty(ctx, store.KeyPersonaResetMessages, key)
	if err != nil {
		return nil, fmt.Errorf("load persona %q reset message: %w", key, err)
	}

	if name == "" || system == "" || reset == "" {
		if err := r.EnsureInitialized(ctx, key); err != nil {
			slog.Warn("persona: placeholder initialization failed", "persona", key, "err", err)
		}
		return nil, fmt.Errorf("persona %q: %w", key, ErrNotConfigured)
	}

	return &Persona{
		Key:           key,
		DisplayName:   name,
		SystemMessage: llm.Message{Role: llm.RoleSystem, Content: system},
		ResetMessage:  llm.Message{Role: llm.RoleAssistant, Content: reset},
	}, nil
}

// EnsureInitialized creates blank placeholder entries for every unset field
// of the persona so an operator can fill them in later. Idempotent: existing
// values, including blank ones, are never overwritten.
func (r *Resolver) EnsureInitialized(ctx context.Context, key string) error {
	for _, hash := range []string{
		store.KeyPersonaNames,
		store.KeyPersonaSystemMessages,
		store.KeyPersonaResetMessages,
	} {
		exists, err := r.store.HExists(ctx, hash, key)
		if err != nil {
			return fmt.Errorf("check %s[%s]: %w", hash, key, err)
		}
		if !exists {
			if err := r.store.HSet(ctx, hash, key, ""); err != nil {
				return fmt.Errorf("init %s[%s]: %w", hash, key, err)
			}
		}
	}
	return nil
}

// hgetOrEmpty treats a missing hash field as an empty value.
func (r *Resolver) hgetOrEmpty(ctx context.Context, hash, field string) (string, error) {
	v, err := r.store.HGet(ctx, hash, field)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return v, err
}
