package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/orchestrator"
	"github.com/KafClaw/siteagent/internal/provider"
	"github.com/KafClaw/siteagent/internal/security"
)

type echoLLM struct{}

func (echoLLM) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &provider.ChatResponse{Content: "echo: " + last.Content}, nil
}

func (echoLLM) DefaultModel() string { return "echo" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = dir
	cfg.Paths.DBPath = filepath.Join(dir, "agent.db")
	cfg.Paths.SiteRoot = filepath.Join(dir, "site")
	cfg.Paths.BackupDir = filepath.Join(dir, "backups")
	cfg.Scheduler.LockPath = filepath.Join(dir, "worker.lock")
	cfg.Agents = []config.AgentEntry{{ID: "site"}}
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, Options{Provider: echoLLM{}, SkipSinks: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if _, ok := a.Tools.Get(audit.RecentToolName); !ok {
		t.Fatal("audit tool not registered")
	}
	if len(a.Tools.Names()) != 11 {
		t.Fatalf("tools: %v", a.Tools.Names())
	}

	ctx := context.Background()
	id, err := a.Orchestrator.Enqueue(ctx, orchestrator.ChatRequest{
		AgentID:   "site",
		Message:   "What does the about page say?",
		Requester: security.Requester{UserID: "1", Role: "administrator"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := a.Scheduler.Drain(ctx); n != 1 {
		t.Fatalf("drained %d", n)
	}
	a.Scheduler.Wait()
	job, err := a.Jobs.GetJob(ctx, id)
	if err != nil || job.Status != "completed" {
		t.Fatalf("job: %+v %v", job, err)
	}

	swept := a.Scheduler.Sweep(ctx)
	for _, name := range []string{"jobs", "stale_jobs", "audit", "security_events", "proposals", "kv"} {
		if _, ok := swept[name]; !ok {
			t.Errorf("sweep %s did not run: %v", name, swept)
		}
	}
}

func TestSlackNeedsTokenAndChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.SlackToken = "xoxb-1"
	if _, err := New(cfg, Options{Provider: echoLLM{}}); err == nil {
		t.Fatal("expected error for half-configured slack")
	}
}

func TestReloadSwapsConfig(t *testing.T) {
	cfg := testConfig(t)
	next := testConfig(t)
	next.Paths = cfg.Paths
	next.Agent.MaxToolIterations = 3
	next.Provider.APIKey = "sk-test"
	a, err := New(cfg, Options{
		Provider:  echoLLM{},
		SkipSinks: true,
		Loader:    func() (*config.Config, error) { return next, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if err := a.Reload(); err != nil {
		t.Fatal(err)
	}
	if a.Runtime.Current().Agent.MaxToolIterations != 3 {
		t.Fatal("config not reloaded")
	}
}
