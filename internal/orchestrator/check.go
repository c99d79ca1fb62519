package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/config"
)

type configuredProvider interface {
	Configured() bool
	Name() string
}

// SystemCheck inspects storage, the vendor credential, the site tree and
// the safety settings, and records the overall status in the audit log.
func (o *Orchestrator) SystemCheck(ctx context.Context) (*CheckReport, error) {
	cfg := o.rt.Current()
	report := &CheckReport{}
	add := func(name, status, msg string) {
		report.Checks = append(report.Checks, Check{Name: name, Status: status, Message: msg})
	}

	if o.store == nil {
		add("database", CheckWarn, "no database handle")
	} else if err := o.store.Ping(); err != nil {
		add("database", CheckFail, err.Error())
	} else {
		add("database", CheckOK, "reachable")
	}

	switch p := o.currentProvider().(type) {
	case nil:
		add("provider", CheckFail, "no provider")
	case configuredProvider:
		if p.Configured() {
			add("provider", CheckOK, p.Name()+" credential present")
		} else {
			add("provider", CheckFail, p.Name()+" has no API key")
		}
	default:
		add("provider", CheckOK, "custom provider")
	}

	if info, err := os.Stat(cfg.Paths.SiteRoot); err != nil {
		add("site_root", CheckFail, err.Error())
	} else if !info.IsDir() {
		add("site_root", CheckFail, cfg.Paths.SiteRoot+" is not a directory")
	} else {
		add("site_root", CheckOK, cfg.Paths.SiteRoot)
	}

	if err := checkWritable(cfg.Paths.BackupDir); err != nil {
		add("backup_dir", CheckFail, err.Error())
	} else {
		add("backup_dir", CheckOK, cfg.Paths.BackupDir)
	}

	if stats, err := o.jobs.GetStats(ctx, ""); err != nil {
		add("jobs", CheckFail, err.Error())
	} else if stats.Failed > 0 {
		add("jobs", CheckWarn, fmt.Sprintf("%d pending, %d failed", stats.Pending, stats.Failed))
	} else {
		add("jobs", CheckOK, fmt.Sprintf("%d pending", stats.Pending))
	}

	if cfg.Security.Enabled {
		add("security_filter", CheckOK, "enabled")
	} else {
		add("security_filter", CheckWarn, "content checks disabled")
	}

	if cfg.Agent.ConfirmationMode == config.ConfirmModeAuto {
		add("confirmation_mode", CheckWarn, "write tools run without approval")
	} else {
		add("confirmation_mode", CheckOK, cfg.Agent.ConfirmationMode)
	}

	report.Overall = CheckOK
	for _, c := range report.Checks {
		if severity(c.Status) > severity(report.Overall) {
			report.Overall = c.Status
		}
	}

	if _, err := o.audit.Log(ctx, audit.Entry{
		AgentID:    "system",
		Action:     audit.ActionSystemCheck,
		TargetType: "system",
		Details:    map[string]any{"overall": report.Overall, "checks": len(report.Checks)},
	}); err != nil {
		slog.Warn("System check audit not recorded", "error", err)
	}
	return report, nil
}

func severity(status string) int {
	switch status {
	case CheckFail:
		return 2
	case CheckWarn:
		return 1
	}
	return 0
}

func checkWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("backup dir not set")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
