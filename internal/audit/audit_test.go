package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
	"github.com/KafClaw/siteagent/internal/tools"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewLogger(st.DB(), config.NewRuntime(nil))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestLogAndRecent(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, e := range []Entry{
		{AgentID: "editor", Action: ActionChatComplete, TokensUsed: 10, Cost: 0.01},
		{AgentID: "editor", Action: ActionToolCall, TargetType: "option", TargetID: "blogname", Details: map[string]any{"tool": "get_option"}},
		{AgentID: "seo", Action: ActionChatComplete, TokensUsed: 5},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := l.Log(ctx, e); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	all, err := l.GetRecent(ctx, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("recent: %d %v", len(all), err)
	}
	if all[0].AgentID != "seo" {
		t.Fatalf("expected newest first, got %+v", all[0])
	}
	calls, _ := l.GetRecent(ctx, Filter{AgentID: "editor", Action: ActionToolCall})
	if len(calls) != 1 || calls[0].Details["tool"] != "get_option" || calls[0].TargetID != "blogname" {
		t.Fatalf("filtered recent: %+v", calls)
	}

	if _, err := l.Log(ctx, Entry{Action: "x"}); err == nil {
		t.Fatal("agent id is required")
	}
}

func TestStats(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	now := time.Now()
	l.SetClock(func() time.Time { return now })
	entries := []Entry{
		{AgentID: "a", Action: ActionChatComplete, TokensUsed: 100, Cost: 0.5, CreatedAt: now.Add(-time.Hour)},
		{AgentID: "b", Action: ActionChatComplete, TokensUsed: 50, Cost: 0.25, CreatedAt: now.Add(-2 * time.Hour)},
		{AgentID: "a", Action: ActionToolCall, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{AgentID: "c", Action: ActionChatComplete, TokensUsed: 1, CreatedAt: now.Add(-20 * 24 * time.Hour)},
	}
	for _, e := range entries {
		if _, err := l.Log(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	day, err := l.GetStats(ctx, "day")
	if err != nil {
		t.Fatal(err)
	}
	if day.TotalActions != 2 || day.TotalTokens != 150 || day.ActiveAgents != 2 || day.TotalCost < 0.749 || day.TotalCost > 0.751 {
		t.Fatalf("day stats: %+v", day)
	}
	week, _ := l.GetStats(ctx, "week")
	if week.TotalActions != 3 || week.ActiveAgents != 2 {
		t.Fatalf("week stats: %+v", week)
	}
	month, _ := l.GetStats(ctx, "month")
	if month.TotalActions != 4 || month.ActiveAgents != 3 {
		t.Fatalf("month stats: %+v", month)
	}
	if _, err := l.GetStats(ctx, "year"); err == nil {
		t.Fatal("unknown period must fail")
	}
}

func TestCleanupExpiredFallsBack(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	now := time.Now()
	l.SetClock(func() time.Time { return now })
	for _, age := range []time.Duration{100 * 24 * time.Hour, 50 * 24 * time.Hour, time.Hour} {
		if _, err := l.Log(ctx, Entry{AgentID: "a", Action: "x", CreatedAt: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	l.SetRetentionFilter(func(int) int { return -5 })
	if l.RetentionDays() != 90 {
		t.Fatalf("expected fallback to 90, got %d", l.RetentionDays())
	}
	n, err := l.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleanup with fallback: %d %v", n, err)
	}

	l.SetRetentionFilter(func(int) int { return 30 })
	n, _ = l.CleanupExpired(ctx)
	if n != 1 {
		t.Fatalf("cleanup with 30 days: %d", n)
	}
}

func TestKafkaSinkMirrorsEntries(t *testing.T) {
	l := newTestLogger(t)
	w := &fakeWriter{}
	l.SetSink(newKafkaSinkWithWriter(w))
	id, err := l.Log(context.Background(), Entry{AgentID: "editor", Action: ActionToolCall, TokensUsed: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "editor" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var got Entry
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got.ID != id || got.TokensUsed != 3 {
		t.Fatalf("decoded entry: %+v %v", got, err)
	}

	w.err = errors.New("broker down")
	if _, err := l.Log(context.Background(), Entry{AgentID: "editor", Action: "x"}); err != nil {
		t.Fatalf("sink failure must not fail Log: %v", err)
	}
	if _, err := NewKafkaSink(" , ", "topic"); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestRecentTool(t *testing.T) {
	l := newTestLogger(t)
	r := tools.NewRegistry(nil)
	if err := l.RegisterTools(r); err != nil {
		t.Fatal(err)
	}
	out, err := r.Execute(context.Background(), RecentToolName, nil)
	if err != nil || out != "No audit entries." {
		t.Fatalf("empty tool output: %q %v", out, err)
	}
	_, _ = l.Log(context.Background(), Entry{AgentID: "seo", Action: ActionChatComplete})
	out, _ = r.Execute(context.Background(), RecentToolName, map[string]any{"agent_id": "seo"})
	if !strings.Contains(out, `"agent_id": "seo"`) {
		t.Fatalf("tool output: %s", out)
	}
}
