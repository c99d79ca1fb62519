package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Provider.Name != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.Provider.Name)
	}
	if cfg.Agent.ConfirmationMode != ConfirmModeConfirm {
		t.Errorf("expected confirm mode, got %s", cfg.Agent.ConfirmationMode)
	}
	if cfg.Agent.MaxToolIterations != 8 {
		t.Errorf("expected 8 tool iterations, got %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected gateway host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Security.RateLimitAuthenticated != 30 || cfg.Security.RateLimitAnonymous != 10 {
		t.Errorf("unexpected rate limits: %+v", cfg.Security)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected cache ttl 1h, got %v", cfg.Cache.TTL)
	}
}

func TestClampCacheTTL(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Hour},
		{time.Second, 60 * time.Second},
		{59 * time.Second, 60 * time.Second},
		{10 * time.Minute, 10 * time.Minute},
		{48 * time.Hour, 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := ClampCacheTTL(tc.in); got != tc.want {
			t.Errorf("ClampCacheTTL(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeFallsBackOnNonPositive(t *testing.T) {
	cfg := &Config{}
	cfg.Audit.RetentionDays = -5
	cfg.Agent.ConfirmationMode = "bogus"
	cfg.Normalize()

	if cfg.Audit.RetentionDays != DefaultAuditRetentionDays {
		t.Errorf("expected audit retention fallback, got %d", cfg.Audit.RetentionDays)
	}
	if cfg.Security.LogRetentionDays != DefaultSecurityRetention {
		t.Errorf("expected security retention fallback, got %d", cfg.Security.LogRetentionDays)
	}
	if cfg.Agent.ConfirmationMode != ConfirmModeConfirm {
		t.Errorf("expected confirm mode fallback, got %s", cfg.Agent.ConfirmationMode)
	}
	if cfg.Jobs.RetentionHours != 48 {
		t.Errorf("expected 48h job retention, got %d", cfg.Jobs.RetentionHours)
	}
	if cfg.Proposals.TTL != 7*24*time.Hour {
		t.Errorf("expected 7d proposal ttl, got %v", cfg.Proposals.TTL)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("SITEAGENT_CONFIG", "")
	t.Setenv("SITEAGENT_HOME", "")
	t.Setenv("SITEAGENT_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider.MaxTokens != 4096 {
		t.Errorf("expected maxTokens 4096, got %d", cfg.Provider.MaxTokens)
	}
	if want := filepath.Join(tmp, ".siteagent", "siteagent.db"); cfg.Paths.DBPath != want {
		t.Errorf("expected db path %s, got %s", want, cfg.Paths.DBPath)
	}
	if want := filepath.Join(tmp, ".siteagent", "backups"); cfg.Paths.BackupDir != want {
		t.Errorf("expected backup dir %s, got %s", want, cfg.Paths.BackupDir)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	tmp := t.TempDir()
	configDir := filepath.Join(tmp, ".siteagent")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{
  "provider": {"name": "anthropic", "model": "claude-sonnet-4-5"},
  "cache": {"ttl": 5000000000},
  "agents": [{"id": "seo", "tasks": [{"id": "weekly", "prompt": "audit", "schedule": "0 3 * * 1"}]}]
}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HOME", tmp)
	t.Setenv("SITEAGENT_CONFIG", "")
	t.Setenv("SITEAGENT_HOME", "")
	t.Setenv("SITEAGENT_ENV_FILE", "")
	t.Setenv("SITEAGENT_PROVIDER_MODEL", "claude-opus-4")
	t.Setenv("SITEAGENT_AGENT_CONFIRMATION_MODE", "auto")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("expected provider from file, got %s", cfg.Provider.Name)
	}
	if cfg.Provider.Model != "claude-opus-4" {
		t.Errorf("expected env to override model, got %s", cfg.Provider.Model)
	}
	if cfg.Provider.APIKey != "sk-ant-test" {
		t.Errorf("expected vendor env key fallback, got %q", cfg.Provider.APIKey)
	}
	if cfg.Agent.ConfirmationMode != ConfirmModeAuto {
		t.Errorf("expected auto mode from env, got %s", cfg.Agent.ConfirmationMode)
	}
	if cfg.Cache.TTL != MinCacheTTL {
		t.Errorf("expected ttl clamped to %v, got %v", MinCacheTTL, cfg.Cache.TTL)
	}
	agent, ok := cfg.FindAgent("seo")
	if !ok || len(agent.Tasks) != 1 || agent.Tasks[0].Schedule != "0 3 * * 1" {
		t.Errorf("expected agent seo with one scheduled task, got %+v (found=%v)", agent, ok)
	}
	if _, ok := cfg.FindAgent("missing"); ok {
		t.Error("expected missing agent lookup to fail")
	}
}

func TestLoadInvalidJSONReturnsError(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")
	if err := os.WriteFile(path, []byte(`{"provider":`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SITEAGENT_CONFIG", path)
	t.Setenv("SITEAGENT_ENV_FILE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected JSON error, got nil")
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected JSON error from LoadFile, got nil")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("SITEAGENT_CONFIG", "")
	t.Setenv("SITEAGENT_HOME", "")

	cfg := DefaultConfig()
	cfg.Provider.Model = "saved-model"
	if err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.Provider.Model != "saved-model" {
		t.Errorf("expected saved-model, got %s", loaded.Provider.Model)
	}
}

func TestRuntimeReload(t *testing.T) {
	rt := NewRuntime(nil)
	if rt.Current().Provider.Name != "openai" {
		t.Fatalf("expected default runtime config")
	}

	next := DefaultConfig()
	next.Provider.Name = "gemini"
	if err := rt.Reload(func() (*Config, error) { return next, nil }); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rt.Current().Provider.Name != "gemini" {
		t.Errorf("expected reloaded provider gemini, got %s", rt.Current().Provider.Name)
	}

	if err := rt.Reload(func() (*Config, error) { return nil, os.ErrNotExist }); err == nil {
		t.Fatal("expected reload error")
	}
	if rt.Current().Provider.Name != "gemini" {
		t.Errorf("failed reload must keep previous config, got %s", rt.Current().Provider.Name)
	}
}
