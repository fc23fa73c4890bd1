// Package notify mirrors each turn to an operations webhook so operators can
// follow conversations and spend without tailing the bot's logs.
//
// The payload shape is Slack-compatible Block Kit JSON. Every send is
// fire-and-forget: failures are logged and never propagate to the turn that
// triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
)

const usageDashboardURL = "https://platform.openai.com/account/usage"

// Notifier is the outbound notification collaborator of the turn engine.
type Notifier interface {
	// NotifyNewMessage forwards the turn's prompt and answer, the inbound
	// author, and the cost/usage footnote.
	NotifyNewMessage(ctx context.Context, messages []llm.Message, author, footnote string)
	// NotifyError forwards an error payload with optional context text.
	NotifyError(ctx context.Context, payload any, contextText string)
	// NotifyReset announces the daily spend counter reset.
	NotifyReset(ctx context.Context)
}

// Webhook posts Block Kit messages to a single webhook URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// --- wire types (subset of Slack Block Kit) ---

type wirePayload struct {
	// Text is required for push notification previews even though the
	// blocks carry the same content.
	Text   string      `json:"text"`
	Blocks []wireBlock `json:"blocks"`
}

type wireBlock struct {
	Type     string        `json:"type"`
	Text     *wireText     `json:"text,omitempty"`
	Elements []wireElement `json:"elements,omitempty"`
}

type wireText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireElement struct {
	Type     string    `json:"type"`
	Text     *wireText `json:"text,omitempty"`
	ActionID string    `json:"action_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Style    string    `json:"style,omitempty"`
}

func section(text string) wireBlock {
	return wireBlock{Type: "section", Text: &wireText{Type: "mrkdwn", Text: text}}
}

// NotifyNewMessage posts the turn's messages with one section per message and
// a button linking to the usage dashboard.
func (w *Webhook) NotifyNewMessage(ctx context.Context, messages []llm.Message, author, footnote string) {
	headline := "新規チャット投稿 " + footnote
	blocks := []wireBlock{section(headline)}
	for _, m := range messages {
		label := string(m.Role)
		if m.Role == llm.RoleUser {
			label = fmt.Sprintf("user (%s)", author)
		}
		blocks = append(blocks, section(label+":\n"+CodeBlock(m.Content)))
	}
	blocks = append(blocks,
		wireBlock{
			Type: "actions",
			Elements: []wireElement{{
				Type:     "button",
				Text:     &wireText{Type: "plain_text", Text: "OpenAIのダッシュボードで現在の料金を確認"},
				ActionID: "view-usage",
				URL:      usageDashboardURL,
				Style:    "primary",
			}},
		},
		wireBlock{Type: "divider"},
	)

	w.post(ctx, wirePayload{Text: headline, Blocks: blocks})
}

// NotifyError posts the error payload rendered as a code block.
func (w *Webhook) NotifyError(ctx context.Context, payload any, contextText string) {
	if contextText == "" {
		contextText = "エラーが発生しました。"
	}
	w.post(ctx, wirePayload{
		Text: contextText,
		Blocks: []wireBlock{
			section(contextText),
			section(CodeBlock(fmt.Sprintf("%v", payload))),
		},
	})
}

// NotifyReset announces the daily spend counter reset.
func (w *Webhook) NotifyReset(ctx context.Context) {
	text := "トークン使用数をリセットしました。"
	w.post(ctx, wirePayload{Text: text, Blocks: []wireBlock{section(text)}})
}

// post sends one payload. Errors are logged, never returned.
func (w *Webhook) post(ctx context.Context, p wirePayload) {
	body, err := json.Marshal(p)
	if err != nil {
		slog.Error("notify: failed to marshal payload", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("notify: failed to create request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("notify: webhook delivery failed", "err", err)
		return
	}
	defer resp.Body.Close()
	// Drain body to enable HTTP keep-alive reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		slog.Warn("notify: unexpected webhook response", "status", resp.StatusCode)
	}
}

// Noop discards all notifications. Used when no webhook URL is configured.
type Noop struct{}

func (Noop) NotifyNewMessage(context.Context, []llm.Message, string, string) {}
func (Noop) NotifyError(context.Context, any, string)                        {}
func (Noop) NotifyReset(context.Context)                                     {}

// CodeBlock wraps s in a fenced markdown code block.
func CodeBlock(s string) string {
	return "```\n" + s + "\n```"
}

// InlineCode wraps s in inline markdown code.
func InlineCode(s string) string {
	return "`" + s + "`"
}
