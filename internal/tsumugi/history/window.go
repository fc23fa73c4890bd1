// Package history builds the bounded message window submitted to the
// completion API and persists per-persona conversation history.
//
// The window is bounded by characters, not tokens: the relay deliberately
// uses content length as a cheap token proxy (see budget.WorstCaseTokens for
// the matching cost-side approximation). The persona's system and reset
// messages and the new prompt are never dropped; only prior history is
// subject to trimming, newest-first, so recency wins when space is tight.
package history

import "github.com/knaka3/tsumugi/internal/tsumugi/llm"

// WindowConfig bounds the assembled window.
type WindowConfig struct {
	// HistoryCharLimit is the total character budget for all message
	// contents in one completion request.
	HistoryCharLimit int
	// PromptMaxLength caps the user prompt independently of the remaining
	// history budget.
	PromptMaxLength int
}

// BuildWindow assembles the ordered message sequence for one completion
// request: system message first, trimmed prior history in chronological
// order, the reset message, then the truncated prompt.
//
// The budget available to prior history is what remains of HistoryCharLimit
// after the fixed system and reset contents and the full prompt allowance.
// When that remainder is zero or negative no prior history is included.
// History is walked newest to oldest; each message's content is truncated to
// the remaining budget and the walk stops once the budget is spent, so the
// oldest retained message may arrive clipped.
func BuildWindow(cfg WindowConfig, system llm.Message, prior []llm.Message, reset, prompt llm.Message) []llm.Message {
	remaining := cfg.HistoryCharLimit - len(system.Content) - len(reset.Content) - cfg.PromptMaxLength

	var retained []llm.Message
	if remaining > 0 {
		for i := len(prior) - 1; i >= 0; i-- {
			sliced := prior[i].Truncated(remaining)
			retained = append(retained, sliced)
			remaining -= len(sliced.Content)
			if remaining <= 0 {
				break
			}
		}
	}

	// Retained messages were collected newest-first; restore chronology.
	window := make([]llm.Message, 0, len(retained)+3)
	window = append(window, system)
	for i := len(retained) - 1; i >= 0; i-- {
		window = append(window, retained[i])
	}
	window = append(window, reset)
	window = append(window, prompt.Truncated(cfg.PromptMaxLength))
	return window
}

// CapRecent returns the most recent n entries of msgs. The caller applies
// this before BuildWindow so the character walk only ever sees the stored
// entry cap.
func CapRecent(msgs []llm.Message, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
