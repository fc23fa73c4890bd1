// Package schedule runs the daily maintenance job: once per day at a fixed
// local wall-clock time the spend counter is reset and the reset is
// announced.
//
// Clock injection: the job accepts an optional clock interface so that tests
// can advance time precisely without relying on wall-clock sleeps.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// clock is an interface over time.Now and time.After, allowing tests to
// substitute a controlled fake clock that advances on demand.
type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// realClock delegates to the standard library.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Daily fires a callback once per day at a fixed local time.
type Daily struct {
	hour, minute int
	loc          *time.Location
	fn           func(ctx context.Context)
	clk          clock
}

// NewDaily creates a Daily job firing at "HH:MM" in loc. The callback runs on
// the job goroutine; it should not block for long.
func NewDaily(at string, loc *time.Location, fn func(ctx context.Context)) (*Daily, error) {
	return newDailyWithClock(at, loc, fn, realClock{})
}

// newDailyWithClock is the clock-injectable core of NewDaily (for testing).
func newDailyWithClock(at string, loc *time.Location, fn func(ctx context.Context), clk clock) (*Daily, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("invalid daily time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		hour:   t.Hour(),
		minute: t.Minute(),
		loc:    loc,
		fn:     fn,
		clk:    clk,
	}, nil
}

// Run blocks, firing the callback at every scheduled tick until ctx is
// cancelled. Callers run it on its own goroutine.
func (d *Daily) Run(ctx context.Context) {
	for {
		now := d.clk.Now()
		next := d.NextRun(now)

		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}

		select {
		case <-ctx.Done():
			slog.Info("schedule: daily job stopped")
			return
		case <-d.clk.After(delay):
			slog.Info("schedule: daily job firing", "at", next)
			d.fn(ctx)
		}
	}
}

// NextRun returns the first scheduled time strictly after now.
func (d *Daily) NextRun(now time.Time) time.Time {
	local := now.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
