package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

func newTestRuntime(t *testing.T) (*config.Runtime, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.SiteRoot = root
	return config.NewRuntime(cfg), root
}

func newTestSite(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func wantKind(t *testing.T, err error, kind string) {
	t.Helper()
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

type fakeBackup struct {
	calls []string
	seen  map[string]string
}

func (f *fakeBackup) BackupFile(path string) (string, error) {
	f.calls = append(f.calls, path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if f.seen == nil {
		f.seen = map[string]string{}
	}
	f.seen[path] = string(data)
	return path + ".bak", nil
}

var bg = context.Background()
