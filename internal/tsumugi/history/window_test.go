package history

import (
	"strings"
	"testing"

	"github.com/knaka3/tsumugi/internal/tsumugi/llm"
)

func user(content string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: content}
}

func assistant(content string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: content}
}

func contents(msgs []llm.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestBuildWindow_OrderWithoutHistory(t *testing.T) {
	cfg := WindowConfig{HistoryCharLimit: 1000, PromptMaxLength: 200}
	system := llm.Message{Role: llm.RoleSystem, Content: "you are tsumugi"}
	reset := assistant("i am tsumugi")

	window := BuildWindow(cfg, system, nil, reset, user("hello"))

	want := []string{"you are tsumugi", "i am tsumugi", "hello"}
	got := contents(window)
	if len(got) != len(want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if window[0].Role != llm.RoleSystem || window[1].Role != llm.RoleAssistant || window[2].Role != llm.RoleUser {
		t.Errorf("roles = %v %v %v", window[0].Role, window[1].Role, window[2].Role)
	}
}

func TestBuildWindow_HistoryChronologicalWhenItFits(t *testing.T) {
	cfg := WindowConfig{HistoryCharLimit: 1000, PromptMaxLength: 200}
	prior := []llm.Message{user("first"), assistant("second"), user("third")}

	window := BuildWindow(cfg, llm.Message{Role: llm.RoleSystem, Content: "sys"}, prior, assistant("reset"), user("prompt"))

	got := contents(window)
	want := []string{"sys", "first", "second", "third", "reset", "prompt"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildWindow_TrimsOldestFirst(t *testing.T) {
	// budget for prior = 30 - 3 (sys) - 5 (reset) - 10 (prompt max) = 12.
	cfg := WindowConfig{HistoryCharLimit: 30, PromptMaxLength: 10}
	prior := []llm.Message{
		user("aaaaaaaaaa"), // 10 chars, oldest
		user("bbbbbbbb"),   // 8 chars
		user("cccc"),       // 4 chars, newest
	}

	window := BuildWindow(cfg, llm.Message{Role: llm.RoleSystem, Content: "sys"}, prior, assistant("reset"), user("prompt"))

	// Newest-first walk: "cccc" (4, remaining 8), "bbbbbbbb" (8, remaining 0,
	// stop). The oldest message never makes it in.
	got := contents(window)
	want := []string{"sys", "bbbbbbbb", "cccc", "reset", "prompt"}
	if len(got) != len(want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildWindow_OldestRetainedClipped(t *testing.T) {
	// budget for prior = 30 - 3 - 5 - 10 = 12; the single prior message is 20
	// chars and must arrive clipped to 12.
	cfg := WindowConfig{HistoryCharLimit: 30, PromptMaxLength: 10}
	prior := []llm.Message{user(strings.Repeat("x", 20))}

	window := BuildWindow(cfg, llm.Message{Role: llm.RoleSystem, Content: "sys"}, prior, assistant("reset"), user("p"))

	if got := window[1].Content; got != strings.Repeat("x", 12) {
		t.Errorf("retained content = %q (len %d), want 12 x's", got, len(got))
	}
}

func TestBuildWindow_NoBudgetDropsAllHistory(t *testing.T) {
	// 3 + 5 + 10 = 18 >= 15, so prior history gets nothing.
	cfg := WindowConfig{HistoryCharLimit: 15, PromptMaxLength: 10}
	prior := []llm.Message{user("old"), assistant("older")}

	window := BuildWindow(cfg, llm.Message{Role: llm.RoleSystem, Content: "sys"}, prior, assistant("reset"), user("p"))

	if len(window) != 3 {
		t.Errorf("window = %v, want only system/reset/prompt", contents(window))
	}
}

func TestBuildWindow_PromptTruncated(t *testing.T) {
	cfg := WindowConfig{HistoryCharLimit: 1000, PromptMaxLength: 5}

	window := BuildWindow(cfg, llm.Message{Role: llm.RoleSystem, Content: "sys"}, nil, assistant("reset"), user("0123456789"))

	if got := window[len(window)-1].Content; got != "01234" {
		t.Errorf("prompt = %q, want %q", got, "01234")
	}
}

func TestCapRecent(t *testing.T) {
	msgs := []llm.Message{user("a"), user("b"), user("c")}

	if got := CapRecent(msgs, 2); len(got) != 2 || got[0].Content != "b" {
		t.Errorf("CapRecent(3 msgs, 2) = %v", contents(got))
	}
	if got := CapRecent(msgs, 5); len(got) != 3 {
		t.Errorf("CapRecent(3 msgs, 5) = %v", contents(got))
	}
	if got := CapRecent(msgs, 0); got != nil {
		t.Errorf("CapRecent(3 msgs, 0) = %v, want nil", contents(got))
	}
}
