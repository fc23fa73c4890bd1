package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComplete_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody oaiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hi there"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Model: "gpt-3.5-turbo",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are a bot"},
			{Role: RoleUser, Content: "hello"},
		},
		MaxTokens:       512,
		Temperature:     1.1,
		PresencePenalty: -0.3,
		User:            "tsumugi bot @tsumugi:example.org",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error: %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-3.5-turbo" || len(gotBody.Messages) != 2 {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotBody.MaxTokens != 512 || gotBody.Temperature != 1.1 || gotBody.PresencePenalty != -0.3 {
		t.Errorf("sampling parameters = %+v", gotBody)
	}
	if gotBody.User != "tsumugi bot @tsumugi:example.org" {
		t.Errorf("user = %q", gotBody.User)
	}

	if resp.Message.Role != RoleAssistant || resp.Message.Content != "hi there" {
		t.Errorf("message = %+v", resp.Message)
	}
	if resp.Usage.TotalTokens != 42 || resp.Usage.PromptTokens != 30 || resp.Usage.CompletionTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestComplete_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), CompletionRequest{Model: "gpt-3.5-turbo"})
	if err == nil {
		t.Fatal("Complete() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid_request_error") || !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("error = %q", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), CompletionRequest{Model: "gpt-3.5-turbo"})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("error = %v, want no-choices error", err)
	}
}

func TestComplete_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if _, err := p.Complete(context.Background(), CompletionRequest{Model: "gpt-3.5-turbo"}); err == nil {
		t.Error("Complete() expected decode error, got nil")
	}
}

func TestTruncated(t *testing.T) {
	m := Message{Role: RoleUser, Content: "0123456789"}

	if got := m.Truncated(4).Content; got != "0123" {
		t.Errorf("Truncated(4) = %q", got)
	}
	if got := m.Truncated(20).Content; got != "0123456789" {
		t.Errorf("Truncated(20) = %q", got)
	}
	if got := m.Truncated(0).Content; got != "" {
		t.Errorf("Truncated(0) = %q", got)
	}
	// The original is untouched.
	if m.Content != "0123456789" {
		t.Errorf("receiver mutated: %q", m.Content)
	}
}
