// Package audit keeps a durable per-turn record in SQLite so spend can be
// reconciled against the approximate Redis counter after the fact.
//
// Recording is fire-and-forget from the engine's point of view: a failed
// insert is logged and the turn continues.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Turn is one recorded inbound-message → outbound-reply cycle.
type Turn struct {
	// ID is the engine-assigned turn UUID.
	ID string
	// Persona is the resolved persona key ("" when resolution never ran).
	Persona string
	// Author is the inbound message author.
	Author string
	// Status is the terminal state: succeeded, failed, or rejected.
	Status string
	// TotalTokens is the reported usage, or the worst-case estimate when
	// usage was unknown.
	TotalTokens int
	// CostDollar is TotalTokens run through the cost approximation.
	CostDollar float64
	// Duration is the wall time of the whole turn.
	Duration time.Duration
	// CreatedAt defaults to time.Now() when zero.
	CreatedAt time.Time
}

// Terminal turn statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Log wraps the SQLite connection holding the turns table.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent turns are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			persona TEXT NOT NULL,
			author TEXT NOT NULL,
			status TEXT NOT NULL,
			total_tokens INTEGER NOT NULL,
			cost_dollar REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create turns table: %w", err)
	}

	return &Log{db: db}, nil
}

// Record inserts one turn row.
func (l *Log) Record(ctx context.Context, t Turn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turns (id, persona, author, status, total_tokens, cost_dollar, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Persona, t.Author, t.Status, t.TotalTokens, t.CostDollar,
		t.Duration.Milliseconds(), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record turn %s: %w", t.ID, err)
	}
	return nil
}

// RecentTurns returns up to limit turns, newest first.
func (l *Log) RecentTurns(ctx context.Context, limit int) ([]Turn, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, persona, author, status, total_tokens, cost_dollar, duration_ms, created_at
		FROM turns ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var durationMS int64
		if err := rows.Scan(&t.ID, &t.Persona, &t.Author, &t.Status,
			&t.TotalTokens, &t.CostDollar, &durationMS, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Duration = time.Duration(durationMS) * time.Millisecond
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close closes the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
