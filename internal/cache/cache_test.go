package cache

import (
	"context"
	"testing"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

func newTestCache(t *testing.T) (*Cache, *store.MemoryKV) {
	t.Helper()
	kv := store.NewMemoryKV(nil)
	return New(config.NewRuntime(config.DefaultConfig()), kv), kv
}

func TestKeyDeterminism(t *testing.T) {
	base := Key("What is WordPress?", "agentA", "anon")
	if base != Key("What is WordPress?", "agentA", "anon") {
		t.Fatal("key must be deterministic")
	}
	if base != Key("  what IS   wordpress?\n", "agentA", "anon") {
		t.Fatal("key must ignore case and whitespace runs")
	}
	if base == Key("What is WordPress?", "agentB", "anon") {
		t.Fatal("key must differ by agent")
	}
	if base == Key("What is WordPress?", "agentA", "role:editor") {
		t.Fatal("key must differ by bucket")
	}
	if base == Key("What is Drupal?", "agentA", "anon") {
		t.Fatal("key must differ by message")
	}
}

func TestBucket(t *testing.T) {
	if Bucket("", "administrator") != "anon" {
		t.Error("anonymous callers share the anon bucket")
	}
	if Bucket("5", "Editor") != "role:editor" {
		t.Error("authenticated callers bucket by role")
	}
	if Bucket("5", "") != "role:authenticated" {
		t.Error("roleless authenticated callers get their own bucket")
	}
}

func TestShouldCache(t *testing.T) {
	ok := Result{Response: "WordPress is a CMS.", Tokens: 12}
	cases := []struct {
		name    string
		message string
		history int
		res     Result
		want    bool
		reason  string
	}{
		{"eligible", "What is WordPress?", 0, ok, true, ""},
		{"empty response", "What is WordPress?", 0, Result{Response: "  "}, false, "empty_response"},
		{"error", "What is WordPress?", 0, Result{Response: "boom", IsError: true}, false, "error_response"},
		{"tools", "What is WordPress?", 0, Result{Response: "x", ToolsUsed: []string{"read_file"}}, false, "tools_used"},
		{"history", "What is WordPress?", 2, ok, false, "multi_turn"},
		{"short", "hi there", 0, ok, false, "too_short"},
		{"this page", "Summarize this page for me", 0, ok, false, "context_dependent"},
		{"today", "What happened on the site today?", 0, ok, false, "context_dependent"},
		{"recent", "Show the recent comments please", 0, ok, false, "context_dependent"},
	}
	for _, tc := range cases {
		got, reason := ShouldCache(tc.message, tc.history, tc.res, 10)
		if got != tc.want || reason != tc.reason {
			t.Errorf("%s: ShouldCache = %v/%q, want %v/%q", tc.name, got, reason, tc.want, tc.reason)
		}
	}
}

func TestShouldCacheNeverWithHistory(t *testing.T) {
	for _, msg := range []string{"What is WordPress?", "Explain permalinks in depth", "How do I add a user?"} {
		for history := 1; history < 5; history++ {
			if ok, _ := ShouldCache(msg, history, Result{Response: "answer"}, 0); ok {
				t.Fatalf("multi-turn message %q with history %d must not cache", msg, history)
			}
		}
	}
}

func TestSetThenGetNormalized(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	stored, err := c.Set(ctx, "What is WordPress?", "agentA", "anon", 0, Result{Response: "A CMS.", Tokens: 12})
	if err != nil || !stored {
		t.Fatalf("set: stored=%v err=%v", stored, err)
	}
	entry, err := c.Get(ctx, "what is   wordpress?", "agentA", "anon")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry == nil || entry.Response != "A CMS." || entry.Metadata.Tokens != 12 {
		t.Fatalf("expected cache hit, got %+v", entry)
	}
	if other, _ := c.Get(ctx, "What is WordPress?", "agentA", "role:administrator"); other != nil {
		t.Fatal("entries must not leak across buckets")
	}
}

func TestIneligibleSetIsNoop(t *testing.T) {
	c, kv := newTestCache(t)
	ctx := context.Background()
	stored, err := c.Set(ctx, "What is WordPress?", "agentA", "anon", 3, Result{Response: "A CMS."})
	if err != nil || stored {
		t.Fatalf("expected no-op, stored=%v err=%v", stored, err)
	}
	if n, _ := kv.DeletePrefix(ctx, ""); n != 0 {
		t.Fatalf("expected empty store, found %d keys", n)
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c, kv := newTestCache(t)
	ctx := context.Background()
	key := Key("What is WordPress?", "agentA", "anon")

	for _, raw := range []string{`not json`, `["a","b"]`, `{"metadata":{}}`, `{"response":42}`, `null`} {
		_ = kv.Set(ctx, key, raw, time.Hour)
		entry, err := c.Get(ctx, "What is WordPress?", "agentA", "anon")
		if err != nil {
			t.Fatalf("corrupt entry %q must not error: %v", raw, err)
		}
		if entry != nil {
			t.Fatalf("corrupt entry %q must be a miss", raw)
		}
	}
}

func TestDisabledCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = false
	c := New(config.NewRuntime(cfg), store.NewMemoryKV(nil))
	ctx := context.Background()
	if stored, _ := c.Set(ctx, "What is WordPress?", "a", "anon", 0, Result{Response: "x"}); stored {
		t.Fatal("disabled cache must not store")
	}
	if e, _ := c.Get(ctx, "What is WordPress?", "a", "anon"); e != nil {
		t.Fatal("disabled cache must miss")
	}
}

func TestInvalidateAndClearAll(t *testing.T) {
	c, kv := newTestCache(t)
	ctx := context.Background()
	res := Result{Response: "answer"}
	_, _ = c.Set(ctx, "What is WordPress?", "agentA", "anon", 0, res)
	_, _ = c.Set(ctx, "How do plugins work?", "agentA", "anon", 0, res)
	_, _ = c.Set(ctx, "What is WordPress?", "agentB", "anon", 0, res)
	_ = kv.Set(ctx, "rate:user:1:0", "3", time.Minute)

	if err := c.Invalidate(ctx, "What is WordPress?", "agentA", "anon"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if e, _ := c.Get(ctx, "What is WordPress?", "agentA", "anon"); e != nil {
		t.Fatal("invalidated entry still present")
	}
	n, err := c.InvalidateAgent(ctx, "agentA")
	if err != nil || n != 1 {
		t.Fatalf("invalidate agent: n=%d err=%v", n, err)
	}
	n, err = c.ClearAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("clear all: n=%d err=%v", n, err)
	}
	if _, ok, _ := kv.Get(ctx, "rate:user:1:0"); !ok {
		t.Fatal("ClearAll must not touch non-cache keys")
	}
}
