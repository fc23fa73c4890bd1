// Package engine drives one complete turn: spend-guard check, persona
// resolution, history window assembly, the completion call, the in-room
// reply, state persistence, usage accounting, and the webhook notification.
//
// Everything in a turn is strictly sequential; turns themselves run on
// independent goroutines with no cross-turn ordering. There is deliberately
// no retry anywhere: at most one attempt per external call per turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knaka3/tsumugi/internal/tsumugi/audit"
	"github.com/knaka3/tsumugi/internal/tsumugi/budget"
	"github.com/knaka3/tsumugi/internal/tsumugi/history"
	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
	"github.com/knaka3/tsumugi/internal/tsumugi/notify"
	"github.com/knaka3/tsumugi/internal/tsumugi/persona"
)

// User-visible terminal messages. Kept byte-identical to the original bot so
// existing room members see no behavior change.
const (
	replyBudgetExceeded  = "今日の使用料が既に限界を超えています。深夜0時のリセットまでお待ち下さい。"
	replyPersonaUnknown  = "(エラー: 人格不明)"
	replyCompletionError = "(エラー: 回答生成に失敗)"
	replyInternalError   = "(エラー: 処理失敗)"
)

// Inbound is one chat-platform message event as seen by the engine.
type Inbound struct {
	// AuthorIsBot is true when the author is any bot, including this one.
	AuthorIsBot bool
	// MentionsBot is true when the message mentions the relay's own user.
	MentionsBot bool
	// CleanContent is the message body with platform mention syntax already
	// resolved to plain user names.
	CleanContent string
	// Author identifies the sender for notifications and the audit log.
	Author string
}

// Replier delivers the turn's user-visible reaction and reply back to the
// platform. Implementations belong to the chat adapter.
type Replier interface {
	Reply(ctx context.Context, text string) error
	React(ctx context.Context, emoji string) error
}

// Recorder is the audit-log surface the engine uses. Recording failures are
// absorbed; the audit trail is best-effort by design.
type Recorder interface {
	Record(ctx context.Context, t audit.Turn) error
}

// Config holds the engine's model and windowing parameters.
type Config struct {
	Model           string
	AnswerMaxTokens int
	Temperature     float64
	PresencePenalty float64

	HistoryEntryLimit int
	HistoryCharLimit  int
	PromptMaxLength   int

	// BotUsername is the name mentions resolve to inside CleanContent; the
	// prompt builder replaces it with a persona-flavored address phrase.
	BotUsername string
	// BotUserID is the full platform user ID, forwarded as the completion
	// API's end-user identifier.
	BotUserID string
}

// Engine orchestrates turns.
type Engine struct {
	cfg      Config
	guard    *budget.Guard
	resolver *persona.Resolver
	log      *history.Log
	provider llm.Provider
	notifier notify.Notifier
	recorder Recorder // optional
}

// New creates an Engine. recorder may be nil to disable the audit trail.
func New(cfg Config, guard *budget.Guard, resolver *persona.Resolver, log *history.Log, provider llm.Provider, notifier notify.Notifier, recorder Recorder) *Engine {
	return &Engine{
		cfg:      cfg,
		guard:    guard,
		resolver: resolver,
		log:      log,
		provider: provider,
		notifier: notifier,
		recorder: recorder,
	}
}

// HandleMessage runs one full turn for an inbound message. It only acts when
// the message mentions the bot and was not written by a bot. All failure
// paths produce exactly one user-visible reply and at most one webhook
// notification; a panic anywhere is recovered into the generic failure path.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound, replier Replier) {
	if in.AuthorIsBot || !in.MentionsBot {
		return
	}

	start := time.Now()
	turnID := uuid.New().String()
	personaKey := ""

	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: turn panicked", "turn", turnID, "panic", r)
			e.reply(ctx, replier, replyInternalError)
			e.notifier.NotifyError(ctx, r, "")
			e.record(ctx, turnID, personaKey, in.Author, audit.StatusRejected, 0, start)
		}
	}()

	// Guard check runs before anything else; once exceeded nothing further
	// may issue a completion request until the scheduled reset.
	status := e.guard.Check(ctx)
	costInfo := fmt.Sprintf("AI使用料: 1日$%v-本日$%.3f消費=残$%.3f",
		status.LimitDollar, status.CurrentDollar, status.Remaining())
	if status.Exceeded {
		slog.Info("engine: turn rejected, budget exceeded",
			"turn", turnID, "current", status.CurrentDollar, "limit", status.LimitDollar)
		e.reply(ctx, replier, replyBudgetExceeded+costInfo)
		e.record(ctx, turnID, personaKey, in.Author, audit.StatusRejected, 0, start)
		return
	}

	personaKey = e.resolver.Resolve(ctx, in.CleanContent)
	p, err := e.resolver.Load(ctx, personaKey)
	if err != nil {
		if errors.Is(err, persona.ErrNotConfigured) {
			e.reply(ctx, replier, replyPersonaUnknown)
			e.notifier.NotifyError(ctx, err.Error(), e.unconfiguredDiagnostic(personaKey))
		} else {
			// The persona fields are the one piece of state the turn cannot
			// proceed without; a store failure here is turn-fatal.
			slog.Error("engine: failed to load persona", "turn", turnID, "persona", personaKey, "err", err)
			e.reply(ctx, replier, replyInternalError)
			e.notifier.NotifyError(ctx, err.Error(), "")
		}
		e.record(ctx, turnID, personaKey, in.Author, audit.StatusRejected, 0, start)
		return
	}

	prior, err := e.log.Load(ctx, personaKey)
	if err != nil {
		// History is reconstructible context, not ground truth: an unreadable
		// log degrades to an empty window rather than aborting the turn.
		slog.Warn("engine: failed to load history, continuing without",
			"turn", turnID, "persona", personaKey, "err", err)
		prior = nil
	}

	promptMsg := e.buildPrompt(in.CleanContent, p.DisplayName)
	window := history.BuildWindow(history.WindowConfig{
		HistoryCharLimit: e.cfg.HistoryCharLimit,
		PromptMaxLength:  e.cfg.PromptMaxLength,
	}, p.SystemMessage, history.CapRecent(prior, e.cfg.HistoryEntryLimit), p.ResetMessage, promptMsg)

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model:           e.cfg.Model,
		Messages:        window,
		MaxTokens:       e.cfg.AnswerMaxTokens,
		Temperature:     e.cfg.Temperature,
		PresencePenalty: e.cfg.PresencePenalty,
		User:            fmt.Sprintf("tsumugi bot %s", e.cfg.BotUserID),
	})
	if err != nil {
		slog.Error("engine: completion request failed", "turn", turnID, "persona", personaKey, "err", err)
		e.reply(ctx, replier, replyCompletionError)
		// Cost may have been incurred upstream even when the response could
		// not be used; charge the worst case.
		e.guard.Increment(ctx, nil)
		e.notifier.NotifyError(ctx, err.Error(), "OpenAI APIの問い合わせでエラーが発生しました。")
		e.record(ctx, turnID, personaKey, in.Author, audit.StatusFailed, e.guard.WorstCaseTokens(), start)
		return
	}

	var usage *llm.Usage
	usageInfo := "使用料不明"
	if resp.Usage.TotalTokens > 0 {
		usage = &resp.Usage
		usageInfo = fmt.Sprintf("読+書=%d+%d=%dトークン消費",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	footnote := "\n" + notify.InlineCode(fmt.Sprintf("%s %s (%dms)",
		costInfo, usageInfo, time.Since(start).Milliseconds()))

	// Reply before persisting: user-perceived latency beats bookkeeping.
	if err := replier.React(ctx, "✅"); err != nil {
		slog.Warn("engine: failed to react", "turn", turnID, "err", err)
	}
	e.reply(ctx, replier, resp.Message.Content+footnote)

	answerMsg := llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content}
	if err := e.log.Append(ctx, personaKey, prior, promptMsg, answerMsg); err != nil {
		// The user already has their answer; a persistence failure costs
		// only this turn's history entry.
		slog.Error("engine: failed to persist history", "turn", turnID, "persona", personaKey, "err", err)
	}

	e.guard.Increment(ctx, usage)
	e.notifier.NotifyNewMessage(ctx, []llm.Message{promptMsg, answerMsg}, in.Author, footnote)
	e.record(ctx, turnID, personaKey, in.Author, audit.StatusSucceeded, resp.Usage.TotalTokens, start)

	slog.Info("engine: turn completed",
		"turn", turnID, "persona", personaKey, "tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start))
}

// buildPrompt strips mention syntax from the inbound text and substitutes the
// bot's own mention with a persona-flavored address phrase, then truncates to
// the prompt allowance. The substitution keeps the address from steering the
// model while still sounding like the user spoke to the persona by name.
func (e *Engine) buildPrompt(cleanContent, displayName string) llm.Message {
	content := strings.Replace(cleanContent, "@"+e.cfg.BotUsername, "ねえ"+displayName+"、", 1)
	content = strings.ReplaceAll(content, "@", "")
	msg := llm.Message{Role: llm.RoleUser, Content: content}
	return msg.Truncated(e.cfg.PromptMaxLength)
}

// unconfiguredDiagnostic names the persona whose fields are missing.
func (e *Engine) unconfiguredDiagnostic(key string) string {
	if key == persona.DefaultKey {
		return "デフォルト人格について、人格形成用の項目が設定されていません"
	}
	return fmt.Sprintf("%sのトリガーワードは設定されていますが、その他の項目が設定されていません", key)
}

// reply sends a user-visible message, logging (not propagating) failures.
func (e *Engine) reply(ctx context.Context, replier Replier, text string) {
	if err := replier.Reply(ctx, text); err != nil {
		slog.Error("engine: failed to send reply", "err", err)
	}
}

// record writes the turn to the audit log when a recorder is configured.
func (e *Engine) record(ctx context.Context, turnID, personaKey, author, status string, tokens int, start time.Time) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(ctx, audit.Turn{
		ID:          turnID,
		Persona:     personaKey,
		Author:      author,
		Status:      status,
		TotalTokens: tokens,
		CostDollar:  e.guard.CostInDollar(int64(tokens)),
		Duration:    time.Since(start),
	})
	if err != nil {
		slog.Warn("engine: failed to record turn", "turn", turnID, "err", err)
	}
}
