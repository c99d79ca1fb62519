package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/proposal"
)

func TestNewSlackUnconfigured(t *testing.T) {
	n, err := NewSlack(config.NotifyConfig{}, nil)
	if err != nil || n != nil {
		t.Fatalf("expected nil notifier: %v %v", n, err)
	}
	if _, err := NewSlack(config.NotifyConfig{SlackToken: "xoxb"}, nil); err == nil {
		t.Fatal("token without channel must fail")
	}
}

func TestProposalCreatedPostsMessage(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.2"}`))
	}))
	defer srv.Close()

	n, err := NewSlack(config.NotifyConfig{SlackToken: "xoxb-test", SlackChannel: "C1", SlackAPIURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	err = n.ProposalCreated(context.Background(), &proposal.Proposal{
		ID: "abc", AgentID: "editor", Tool: "write_file", Description: "Overwrite uploads/a.txt",
		Diff: "--- a\n+++ b\n", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if form == nil || form["channel"][0] != "C1" {
		t.Fatalf("unexpected form: %v", form)
	}
	if !strings.Contains(form["text"][0], "write_file") || !strings.Contains(form["blocks"][0], "abc") {
		t.Fatalf("message missing proposal details: %v", form)
	}
}

func TestProposalCreatedSlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()
	n, _ := NewSlack(config.NotifyConfig{SlackToken: "xoxb-test", SlackChannel: "C404", SlackAPIURL: srv.URL}, srv.Client())
	err := n.ProposalCreated(context.Background(), &proposal.Proposal{ID: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}
