// Package app wires the stores, services and surfaces into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/cache"
	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/httpapi"
	"github.com/KafClaw/siteagent/internal/jobs"
	"github.com/KafClaw/siteagent/internal/metrics"
	"github.com/KafClaw/siteagent/internal/notify"
	"github.com/KafClaw/siteagent/internal/orchestrator"
	"github.com/KafClaw/siteagent/internal/proposal"
	"github.com/KafClaw/siteagent/internal/provider"
	"github.com/KafClaw/siteagent/internal/provider/credentials"
	"github.com/KafClaw/siteagent/internal/scheduler"
	"github.com/KafClaw/siteagent/internal/security"
	"github.com/KafClaw/siteagent/internal/store"
	"github.com/KafClaw/siteagent/internal/tools"
)

// Version is stamped at build time.
var Version = "dev"

// App holds every wired service.
type App struct {
	Runtime      *config.Runtime
	Store        *store.Store
	Events       *security.EventLog
	Filter       *security.Filter
	Cache        *cache.Cache
	Deny         *tools.OptionDenyList
	Tools        *tools.Registry
	Backups      *proposal.Backups
	Proposals    *proposal.Store
	Jobs         *jobs.Manager
	Runner       *jobs.Runner
	Audit        *audit.Logger
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler

	loader func() (*config.Config, error)
}

// Options controls optional wiring.
type Options struct {
	// Loader reloads configuration. Defaults to config.Load.
	Loader func() (*config.Config, error)
	// Provider overrides the vendor client built from config.
	Provider provider.LLMProvider
	// SkipSinks disables the Kafka mirror and Slack notifier.
	SkipSinks bool
}

// New opens storage and wires the services for cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	rt := config.NewRuntime(cfg)
	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, err
	}
	kv := st.KV()

	a := &App{
		Runtime: rt,
		Store:   st,
		Events:  security.NewEventLog(st.DB()),
		Cache:   cache.New(rt, kv),
		Backups: proposal.NewBackups(cfg.Paths.BackupDir),
		Jobs:    jobs.NewManager(st.DB(), rt),
		Audit:   audit.NewLogger(st.DB(), rt),
		Metrics: metrics.New(),
		loader:  opts.Loader,
	}
	if a.loader == nil {
		a.loader = config.Load
	}
	a.Filter = security.NewFilter(rt, kv, a.Events)
	a.Deny = tools.NewOptionDenyList(rt, st)
	a.Tools = tools.NewRegistry(a.Deny)
	tools.RegisterCore(a.Tools, tools.CoreDeps{Runtime: rt, Site: st, Backup: a.Backups, Diff: proposal.GenerateDiff})
	if err := a.Audit.RegisterTools(a.Tools); err != nil {
		st.Close()
		return nil, fmt.Errorf("register audit tools: %w", err)
	}
	a.Proposals = proposal.NewStore(st.DB(), rt, a.Tools)
	a.Runner = jobs.NewRunner(a.Jobs)

	if !opts.SkipSinks {
		if err := a.wireSinks(cfg); err != nil {
			st.Close()
			return nil, err
		}
	}

	llm := opts.Provider
	if llm == nil {
		client, err := BuildProvider(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		llm = client
	}

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Runtime:   rt,
		Provider:  llm,
		Filter:    a.Filter,
		Cache:     a.Cache,
		Tools:     a.Tools,
		Proposals: a.Proposals,
		Jobs:      a.Jobs,
		Audit:     a.Audit,
		Metrics:   a.Metrics,
		Store:     st,
	})
	a.Orchestrator.RegisterProcessors(a.Runner)

	a.Scheduler = scheduler.New(rt, a.Jobs, a.Runner, a.Orchestrator, a.Metrics)
	a.registerSweeps()
	return a, nil
}

func (a *App) wireSinks(cfg *config.Config) error {
	if cfg.Audit.KafkaBrokers != "" {
		sink, err := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return err
		}
		a.Audit.SetSink(sink)
		slog.Info("Audit mirror enabled", "topic", cfg.Audit.KafkaTopic)
	}
	slack, err := notify.NewSlack(cfg.Notify, nil)
	if err != nil {
		return err
	}
	// A nil *Slack must not become a non-nil Notifier.
	if slack != nil {
		a.Proposals.SetNotifier(slack)
		slog.Info("Slack proposal notifications enabled", "channel", cfg.Notify.SlackChannel)
	}
	return nil
}

func (a *App) registerSweeps() {
	a.Scheduler.AddSweep("jobs", a.Jobs.CleanupOldJobs)
	a.Scheduler.AddSweep("stale_jobs", func(ctx context.Context) (int, error) {
		return a.Jobs.FailStale(ctx, a.Runtime.Current().Jobs.StaleAfter)
	})
	a.Scheduler.AddSweep("audit", a.Audit.CleanupExpired)
	a.Scheduler.AddSweep("security_events", func(ctx context.Context) (int, error) {
		return a.Events.Cleanup(ctx, a.Runtime.Current().Security.LogRetentionDays)
	})
	a.Scheduler.AddSweep("proposals", a.Proposals.PurgeExpired)
	a.Scheduler.AddSweep("kv", a.Store.KV().PurgeExpired)
}

// BuildProvider creates the vendor client for cfg, resolving the API key
// from config, environment or the OS keyring.
func BuildProvider(cfg *config.Config) (*provider.Client, error) {
	name := provider.NormalizeProviderID(cfg.Provider.Name)
	key, err := credentials.Resolve(name, cfg.Provider.APIKey)
	if err != nil {
		slog.Warn("Keyring lookup failed", "provider", name, "error", err)
	}
	return provider.NewClient(cfg.Provider, key)
}

// Reload re-reads configuration and swaps the vendor client.
func (a *App) Reload() error {
	if err := a.Runtime.Reload(a.loader); err != nil {
		return err
	}
	client, err := BuildProvider(a.Runtime.Current())
	if err != nil {
		return err
	}
	a.Orchestrator.SetProvider(client)
	slog.Info("Configuration reloaded")
	return nil
}

// HTTP returns the gateway server.
func (a *App) HTTP() *httpapi.Server {
	return httpapi.New(httpapi.Deps{
		Runtime:      a.Runtime,
		Orchestrator: a.Orchestrator,
		Jobs:         a.Jobs,
		Proposals:    a.Proposals,
		Audit:        a.Audit,
		Cache:        a.Cache,
		Tools:        a.Tools,
		Metrics:      a.Metrics,
		Version:      Version,
	})
}

// Serve runs the worker (when enabled) and the HTTP gateway until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedDone := make(chan error, 1)
	if a.Runtime.Current().Scheduler.Enabled {
		go func() { schedDone <- a.Scheduler.Run(ctx) }()
	} else {
		close(schedDone)
	}

	err := a.HTTP().ListenAndServe(ctx)
	cancel()
	if serr := <-schedDone; serr != nil && !errors.Is(serr, context.Canceled) {
		slog.Warn("Scheduler exited", "error", serr)
	}
	return err
}

// Work runs only the background worker until ctx ends.
func (a *App) Work(ctx context.Context) error {
	err := a.Scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close flushes sinks and closes storage.
func (a *App) Close() error {
	done := make(chan struct{})
	go func() {
		a.Scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("Timed out waiting for running jobs")
	}
	return errors.Join(a.Audit.Close(), a.Store.Close())
}
