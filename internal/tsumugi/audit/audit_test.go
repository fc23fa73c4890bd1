package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecord_RoundTrip(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	turn := Turn{
		ID:          "turn-1",
		Persona:     "default",
		Author:      "alice",
		Status:      StatusSucceeded,
		TotalTokens: 42,
		CostDollar:  0.000084,
		Duration:    1500 * time.Millisecond,
	}
	if err := l.Record(ctx, turn); err != nil {
		t.Fatalf("Record(): %v", err)
	}

	turns, err := l.RecentTurns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTurns(): %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	got := turns[0]
	if got.ID != "turn-1" || got.Persona != "default" || got.Author != "alice" {
		t.Errorf("turn = %+v", got)
	}
	if got.Status != StatusSucceeded || got.TotalTokens != 42 {
		t.Errorf("turn = %+v", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted")
	}
}

func TestRecentTurns_NewestFirstAndLimited(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	base := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"turn-1", "turn-2", "turn-3"} {
		err := l.Record(ctx, Turn{
			ID:        id,
			Persona:   "default",
			Author:    "alice",
			Status:    StatusSucceeded,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	turns, err := l.RecentTurns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTurns(): %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].ID != "turn-3" || turns[1].ID != "turn-2" {
		t.Errorf("order = %s, %s", turns[0].ID, turns[1].ID)
	}
}

func TestRecord_DuplicateIDFails(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	turn := Turn{ID: "turn-1", Persona: "default", Author: "alice", Status: StatusRejected}
	if err := l.Record(ctx, turn); err != nil {
		t.Fatalf("first Record(): %v", err)
	}
	if err := l.Record(ctx, turn); err == nil {
		t.Error("second Record() with the same ID expected error")
	}
}
