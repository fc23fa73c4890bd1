package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// --- fake store --------------------------------------------------------------

type fakeStore struct {
	hashes map[string]map[string]string
	// failAll makes every call return an error (store-unavailable paths).
	failAll bool
	// sets records HSet calls as "hash/field=value".
	sets []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: make(map[string]map[string]string)}
}

func (f *fakeStore) set(hash, field, value string) {
	if f.hashes[hash] == nil {
		f.hashes[hash] = make(map[string]string)
	}
	f.hashes[hash][field] = value
}

func (f *fakeStore) HGet(_ context.Context, key, field string) (string, error) {
	if f.failAll {
		return "", errors.New("store down")
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) HSet(_ context.Context, key, field string, value any) error {
	if f.failAll {
		return errors.New("store down")
	}
	f.set(key, field, value.(string))
	f.sets = append(f.sets, key+"/"+field+"="+value.(string))
	return nil
}

func (f *fakeStore) HExists(_ context.Context, key, field string) (bool, error) {
	if f.failAll {
		return false, errors.New("store down")
	}
	_, ok := f.hashes[key][field]
	return ok, nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if f.failAll {
		return nil, errors.New("store down")
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// configure fills in all three required fields for a persona.
func (f *fakeStore) configure(key, name, system, reset string) {
	f.set(store.KeyPersonaNames, key, name)
	f.set(store.KeyPersonaSystemMessages, key, system)
	f.set(store.KeyPersonaResetMessages, key, reset)
}

// --- Resolve -----------------------------------------------------------------

func TestResolve_TriggerWordSelectsPersona(t *testing.T) {
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "helper", `["help"]`)

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "can you help me"); got != "helper" {
		t.Errorf("Resolve() = %q, want %q", got, "helper")
	}
}

func TestResolve_NoMatchYieldsDefault(t *testing.T) {
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "helper", `["help"]`)

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "good morning"); got != DefaultKey {
		t.Errorf("Resolve() = %q, want %q", got, DefaultKey)
	}
}

func TestResolve_LastMatchWins(t *testing.T) {
	// Both personas match; enumeration is lexically sorted key order, so the
	// later key must win regardless of insertion order.
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "zeta", `["hello"]`)
	fs.set(store.KeyPersonaTriggerWords, "alpha", `["hello"]`)

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "hello there"); got != "zeta" {
		t.Errorf("Resolve() = %q, want last match %q", got, "zeta")
	}
}

func TestResolve_MalformedTriggerListSkipped(t *testing.T) {
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "broken", `not json`)
	fs.set(store.KeyPersonaTriggerWords, "helper", `["help"]`)

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "help"); got != "helper" {
		t.Errorf("Resolve() = %q, want %q", got, "helper")
	}
}

func TestResolve_EmptyWordNeverMatches(t *testing.T) {
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "greedy", `[""]`)

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "anything"); got != DefaultKey {
		t.Errorf("Resolve() = %q, want %q", got, DefaultKey)
	}
}

func TestResolve_StoreFailureFallsBackToDefault(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true

	r := NewResolver(fs)
	if got := r.Resolve(context.Background(), "help"); got != DefaultKey {
		t.Errorf("Resolve() = %q, want %q", got, DefaultKey)
	}
}

// --- Load --------------------------------------------------------------------

func TestLoad_ConfiguredPersona(t *testing.T) {
	fs := newFakeStore()
	fs.configure("helper", "ヘルパー", "you are helpful", "i am the helper")

	r := NewResolver(fs)
	p, err := r.Load(context.Background(), "helper")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if p.DisplayName != "ヘルパー" {
		t.Errorf("DisplayName = %q", p.DisplayName)
	}
	if p.SystemMessage.Role != "system" || p.SystemMessage.Content != "you are helpful" {
		t.Errorf("SystemMessage = %+v", p.SystemMessage)
	}
	if p.ResetMessage.Role != "assistant" || p.ResetMessage.Content != "i am the helper" {
		t.Errorf("ResetMessage = %+v", p.ResetMessage)
	}
}

func TestLoad_PartiallyConfiguredCreatesPlaceholders(t *testing.T) {
	// Trigger words set but the system message missing: the persona must be
	// reported not configured and the missing fields placeholder-initialized.
	fs := newFakeStore()
	fs.set(store.KeyPersonaTriggerWords, "helper", `["help"]`)
	fs.set(store.KeyPersonaNames, "helper", "ヘルパー")

	r := NewResolver(fs)
	_, err := r.Load(context.Background(), "helper")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Load() error = %v, want ErrNotConfigured", err)
	}

	for _, hash := range []string{store.KeyPersonaSystemMessages, store.KeyPersonaResetMessages} {
		if _, ok := fs.hashes[hash]["helper"]; !ok {
			t.Errorf("placeholder not created in %s", hash)
		}
	}
	// The already-set display name must not be overwritten with a blank.
	if got := fs.hashes[store.KeyPersonaNames]["helper"]; got != "ヘルパー" {
		t.Errorf("display name overwritten: %q", got)
	}
}

func TestLoad_NotConfiguredNamesPersona(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)
	_, err := r.Load(context.Background(), "ghost")
	if err == nil || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Load() error = %v, want ErrNotConfigured", err)
	}
	if want := `persona "ghost"`; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name the persona", err)
	}
}

func TestEnsureInitialized_Idempotent(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)
	ctx := context.Background()

	if err := r.EnsureInitialized(ctx, "newbie"); err != nil {
		t.Fatalf("first EnsureInitialized: %v", err)
	}
	first := len(fs.sets)
	if err := r.EnsureInitialized(ctx, "newbie"); err != nil {
		t.Fatalf("second EnsureInitialized: %v", err)
	}
	if len(fs.sets) != first {
		t.Errorf("second call wrote %d extra fields, want 0", len(fs.sets)-first)
	}
}
