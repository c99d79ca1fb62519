package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".siteagent"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SITEAGENT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SITEAGENT_CONFIG")); explicit != "" {
		return expandHome(explicit), nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SITEAGENT_HOME")); h != "" {
		return expandHome(h), nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return finish(cfg)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadFile loads a config from an explicit path without consulting the
// environment. Used by tests and the --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return finish(cfg)
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		name string
		spec any
	}{
		{"PATHS", &cfg.Paths},
		{"PROVIDER", &cfg.Provider},
		{"AGENT", &cfg.Agent},
		{"TOOLS", &cfg.Tools},
		{"CACHE", &cfg.Cache},
		{"SECURITY", &cfg.Security},
		{"AUDIT", &cfg.Audit},
		{"JOBS", &cfg.Jobs},
		{"PROPOSALS", &cfg.Proposals},
		{"NOTIFY", &cfg.Notify},
		{"GATEWAY", &cfg.Gateway},
		{"SCHEDULER", &cfg.Scheduler},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.name, g.spec); err != nil {
			return fmt.Errorf("env %s_%s: %w", EnvPrefix, g.name, err)
		}
	}

	// Vendor-conventional fallbacks for the credential.
	if cfg.Provider.APIKey == "" {
		switch strings.ToLower(cfg.Provider.Name) {
		case "openai":
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini", "google":
			cfg.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
		case "xai", "grok":
			cfg.Provider.APIKey = os.Getenv("XAI_API_KEY")
		}
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.Paths.DataDir = expandHome(cfg.Paths.DataDir)
	cfg.Paths.SiteRoot = expandHome(cfg.Paths.SiteRoot)
	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = filepath.Join(cfg.Paths.DataDir, "siteagent.db")
	}
	cfg.Paths.DBPath = expandHome(cfg.Paths.DBPath)
	if cfg.Paths.BackupDir == "" {
		cfg.Paths.BackupDir = filepath.Join(cfg.Paths.DataDir, "backups")
	}
	cfg.Paths.BackupDir = expandHome(cfg.Paths.BackupDir)
	if cfg.Scheduler.LockPath == "" {
		cfg.Scheduler.LockPath = filepath.Join(cfg.Paths.DataDir, "worker.lock")
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
