// Package llm defines the chat-completion provider interface and message
// types used by the Tsumugi turn engine.
//
// The engine issues exactly one Complete call per turn. Providers report
// token usage so the spend guard can account for the turn; when a provider
// fails before usage is known, the guard falls back to a worst-case estimate.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation. Messages are value
// types: trimming produces a new Message with sliced content, never an
// in-place mutation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Truncated returns a copy of m with content capped at max characters.
// A negative max yields empty content.
func (m Message) Truncated(max int) Message {
	if max < 0 {
		max = 0
	}
	if len(m.Content) <= max {
		return m
	}
	return Message{Role: m.Role, Content: m.Content[:max]}
}

// CompletionRequest is the input to a single chat-completion call.
type CompletionRequest struct {
	Model           string
	Messages        []Message
	MaxTokens       int
	Temperature     float64
	PresencePenalty float64
	// User is an opaque end-user identifier forwarded to the API for abuse
	// monitoring (e.g. "tsumugi bot @tsumugi:example.com").
	User string
}

// CompletionResponse is the output from the provider.
type CompletionResponse struct {
	// Message is the assistant message produced (first choice).
	Message Message
	// Usage holds token count information for spend accounting.
	Usage Usage
}

// Usage reports token consumption as returned by the API.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the interface all completion backends implement.
type Provider interface {
	// Complete sends messages to the model and returns the assistant reply.
	// A response with no choices is an error: the engine treats it the same
	// as a transport failure.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
