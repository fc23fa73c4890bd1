// Package budget enforces the daily approximate-spend ceiling.
//
// Spend is tracked as a single global token counter in the store, converted
// to dollars with a fixed per-1000-token price. The counter is an explicit
// externally-owned atomic: nothing is cached in-process, so restarts and
// multiple readers all see the same source of truth. Token counts are an
// approximation; when real usage is unknown the guard over-counts with a
// worst-case estimate rather than under-counting.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
	"github.com/knaka3/tsumugi/internal/tsumugi/store"
)

// Store is the subset of the Redis adapter the guard needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any) error
	IncrBy(ctx context.Context, key string, delta int64) error
}

// Config holds the cost model parameters.
type Config struct {
	// PricePerKiloTokens is the dollar price per 1000 tokens.
	PricePerKiloTokens float64
	// DailyDollarLimit is the spend ceiling per accounting day.
	DailyDollarLimit float64
	// HistoryCharLimit, PromptMaxLength, and AnswerMaxTokens feed the
	// worst-case estimate used when real usage is unknown.
	HistoryCharLimit int
	PromptMaxLength  int
	AnswerMaxTokens  int
}

// Status is the result of a guard check.
type Status struct {
	LimitDollar   float64
	CurrentDollar float64
	Exceeded      bool
}

// Remaining returns the dollars left before the ceiling.
func (s Status) Remaining() float64 {
	return s.LimitDollar - s.CurrentDollar
}

// Guard tracks cumulative approximate spend for the current accounting day.
type Guard struct {
	store Store
	cfg   Config
}

// NewGuard creates a Guard backed by s.
func NewGuard(s Store, cfg Config) *Guard {
	return &Guard{store: s, cfg: cfg}
}

// Check reads the spend counter and reports whether the ceiling is reached.
// A missing, zero, or non-numeric counter is (re)initialized to zero and
// never reports exceeded; the first-use case must not lock the bot out.
// Store failures are absorbed the same way: without a readable counter the
// only safe answer is "not exceeded".
func (g *Guard) Check(ctx context.Context) Status {
	limit := g.cfg.DailyDollarLimit

	raw, err := g.store.Get(ctx, store.KeyTotalTokenCount)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("budget: failed to read spend counter", "err", err)
	}

	tokens, perr := strconv.ParseInt(raw, 10, 64)
	if err != nil || perr != nil || tokens == 0 {
		if serr := g.store.Set(ctx, store.KeyTotalTokenCount, 0); serr != nil {
			slog.Error("budget: failed to initialize spend counter", "err", serr)
		}
		return Status{LimitDollar: limit}
	}

	current := g.CostInDollar(tokens)
	return Status{
		LimitDollar:   limit,
		CurrentDollar: current,
		Exceeded:      current >= limit,
	}
}

// Increment adds the turn's token count to the spend counter. When usage is
// nil (failed call, missing usage metadata) the worst-case estimate is added
// instead so unmeasured turns never under-count spend. Fire-and-forget:
// failures are logged and not surfaced, since accounting must not block the
// reply path.
func (g *Guard) Increment(ctx context.Context, usage *llm.Usage) {
	tokens := int64(g.WorstCaseTokens())
	if usage != nil {
		tokens = int64(usage.TotalTokens)
	}
	if err := g.store.IncrBy(ctx, store.KeyTotalTokenCount, tokens); err != nil {
		slog.Error("budget: failed to increment spend counter", "tokens", tokens, "err", err)
		return
	}
	slog.Debug("budget: spend counter incremented", "tokens", tokens)
}

// Reset zeroes the spend counter. Called by the daily scheduled job only.
func (g *Guard) Reset(ctx context.Context) error {
	if err := g.store.Set(ctx, store.KeyTotalTokenCount, 0); err != nil {
		return fmt.Errorf("reset spend counter: %w", err)
	}
	return nil
}

// CostInDollar converts an approximate token count to dollars:
// cost = tokens/1000 × pricePerKiloTokens. Non-positive counts cost nothing.
func (g *Guard) CostInDollar(tokens int64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * g.cfg.PricePerKiloTokens
}

// WorstCaseTokens is the conservative per-turn estimate used when real usage
// is unknown. History characters count double (multibyte text runs roughly
// two characters per token) plus the full prompt allowance and the maximum
// answer length.
func (g *Guard) WorstCaseTokens() int {
	return 2*g.cfg.HistoryCharLimit + g.cfg.PromptMaxLength + g.cfg.AnswerMaxTokens
}
