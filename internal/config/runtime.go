package config

import (
	"fmt"
	"sync/atomic"
)

// Runtime holds the active configuration. Components read Current() once per
// operation; Reload is the only place the active value changes.
type Runtime struct {
	cur atomic.Pointer[Config]
}

// NewRuntime wraps cfg. A nil cfg is replaced by DefaultConfig().
func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Normalize()
	r := &Runtime{}
	r.cur.Store(cfg)
	return r
}

// Current returns the active configuration. Callers must not mutate it.
func (r *Runtime) Current() *Config {
	return r.cur.Load()
}

// Reload replaces the active configuration with the result of load.
// On error the previous configuration stays active.
func (r *Runtime) Reload(load func() (*Config, error)) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if cfg == nil {
		return fmt.Errorf("reload config: loader returned nil")
	}
	cfg.Normalize()
	r.cur.Store(cfg)
	return nil
}
