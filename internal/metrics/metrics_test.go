package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ChatOutcome("a", "ok")
	m.CacheLookup(true)
	m.SecurityBlock("banned_content")
	m.ToolCall("read_file", "executed")
	m.VendorRequest("openai", time.Second, nil)
	m.Tokens("a", 10)
	m.JobFinished("chat", "completed")
	if m.Registry() != nil {
		t.Fatal("nil metrics has no registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ChatOutcome("editor", "completed")
	m.ChatOutcome("editor", "completed")
	m.CacheLookup(false)
	m.VendorRequest("anthropic", 300*time.Millisecond, errors.New("timeout"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `siteagent_chat_turns_total{agent="editor",outcome="completed"} 2`) ||
		!strings.Contains(string(body), `siteagent_cache_lookups_total{result="miss"} 1`) ||
		!strings.Contains(string(body), `siteagent_vendor_request_seconds_count{provider="anthropic",result="error"} 1`) {
		t.Fatalf("metrics output missing series:\n%s", body)
	}
}
