// Package app wires the relay together: the Redis store, the audit log, the
// Matrix client, the turn engine, and the daily spend-reset job.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/knaka3/tsumugi/internal/tsumugi/audit"
	"github.com/knaka3/tsumugi/internal/tsumugi/budget"
	"github.com/knaka3/tsumugi/internal/tsumugi/config"
	"github.com/knaka3/tsumugi/internal/tsumugi/engine"
	"github.com/knaka3/tsumugi/internal/tsumugi/history"
	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
	"github.com/knaka3/tsumugi/internal/tsumugi/matrix"
	"github.com/knaka3/tsumugi/internal/tsumugi/notify"
	"github.com/knaka3/tsumugi/internal/tsumugi/persona"
	"github.com/knaka3/tsumugi/internal/tsumugi/schedule"
	"github.com/knaka3/tsumugi/internal/tsumugi/store"
	"github.com/knaka3/tsumugi/internal/tsumugi/version"
)

// App is the assembled relay.
type App struct {
	cfg      *config.Config
	store    *store.Store
	auditLog *audit.Log
	client   *matrix.Client
	engine   *engine.Engine
	guard    *budget.Guard
	notifier notify.Notifier
	daily    *schedule.Daily
}

// New builds the application from configuration. It connects to Redis and
// opens the audit database but does not start the Matrix sync loop.
func New(cfg *config.Config) (*App, error) {
	st, err := store.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	client, err := matrix.New(&matrix.Config{
		Homeserver:  cfg.MatrixHomeserver,
		UserID:      cfg.MatrixUserID,
		AccessToken: cfg.MatrixAccessToken,
		Rooms:       cfg.MatrixRooms,
		SyncStore:   matrix.NewRedisSyncStore(st),
	})
	if err != nil {
		auditLog.Close()
		st.Close()
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NoticeWebhookURL != "" {
		notifier = notify.NewWebhook(cfg.NoticeWebhookURL)
	}

	guard := budget.NewGuard(st, budget.Config{
		PricePerKiloTokens: cfg.PricePerKiloTokens,
		DailyDollarLimit:   cfg.DailyDollarLimit,
		HistoryCharLimit:   cfg.HistoryCharLimit,
		PromptMaxLength:    cfg.PromptMaxLength,
		AnswerMaxTokens:    cfg.AnswerMaxTokens,
	})

	eng := engine.New(
		engine.Config{
			Model:             cfg.Model,
			AnswerMaxTokens:   cfg.AnswerMaxTokens,
			Temperature:       cfg.Temperature,
			PresencePenalty:   cfg.PresencePenalty,
			HistoryEntryLimit: cfg.HistoryEntryLimit,
			HistoryCharLimit:  cfg.HistoryCharLimit,
			PromptMaxLength:   cfg.PromptMaxLength,
			BotUsername:       client.Localpart(),
			BotUserID:         client.UserID(),
		},
		guard,
		persona.NewResolver(st),
		history.NewLog(st, cfg.HistoryEntryLimit),
		llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		}),
		notifier,
		auditLog,
	)

	daily, err := schedule.NewDaily(cfg.ResetTime, cfg.ResetLocation, func(ctx context.Context) {
		if err := guard.Reset(ctx); err != nil {
			slog.Error("app: daily spend reset failed", "err", err)
			return
		}
		slog.Info("app: daily spend counter reset")
		notifier.NotifyReset(ctx)
	})
	if err != nil {
		auditLog.Close()
		st.Close()
		return nil, fmt.Errorf("create daily job: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    st,
		auditLog: auditLog,
		client:   client,
		engine:   eng,
		guard:    guard,
		notifier: notifier,
		daily:    daily,
	}, nil
}

// Run starts the relay and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.cfg.PersonaSeedPath != "" {
		if err := persona.SeedFromFile(ctx, a.store, a.cfg.PersonaSeedPath); err != nil {
			return fmt.Errorf("seed personas: %w", err)
		}
	}

	if err := a.client.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("start matrix client: %w", err)
	}

	go a.daily.Run(ctx)

	slog.Info("app: relay started",
		"version", version.Info(),
		"user", a.cfg.MatrixUserID,
		"model", a.cfg.Model,
		"history_limit", a.cfg.HistoryEntryLimit,
		"daily_limit_dollar", a.cfg.DailyDollarLimit,
		"price_per_1k_tokens", a.cfg.PricePerKiloTokens,
		"reset_time", a.cfg.ResetTime,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("app: shutting down", "signal", sig)
	return nil
}

// Stop releases all resources.
func (a *App) Stop() {
	a.client.Stop()
	if err := a.auditLog.Close(); err != nil {
		slog.Warn("app: failed to close audit log", "err", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("app: failed to close store", "err", err)
	}
}

// handleMessage bridges one Matrix message into the engine. Each message
// gets its own goroutine; the engine serializes all work within a turn but
// turns are independent of each other.
func (a *App) handleMessage(ctx context.Context, msg matrix.InboundMessage) {
	in := engine.Inbound{
		AuthorIsBot:  msg.SenderIsBot,
		MentionsBot:  msg.MentionsBot,
		CleanContent: msg.Body,
		Author:       msg.Sender,
	}
	replier := &eventReplier{client: a.client, roomID: msg.RoomID, eventID: msg.EventID}
	go a.engine.HandleMessage(ctx, in, replier)
}

// eventReplier binds the engine's Replier to one room event.
type eventReplier struct {
	client  *matrix.Client
	roomID  string
	eventID string
}

func (r *eventReplier) Reply(ctx context.Context, text string) error {
	return r.client.ReplyTo(ctx, r.roomID, r.eventID, text)
}

func (r *eventReplier) React(ctx context.Context, emoji string) error {
	return r.client.React(ctx, r.roomID, r.eventID, emoji)
}
