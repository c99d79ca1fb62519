// Package audit is the append-only ledger of agent actions with token and
// cost accounting.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// Common actions.
const (
	ActionChatComplete     = "chat_complete"
	ActionToolCall         = "tool_call"
	ActionCacheHit         = "cache_hit"
	ActionProposalCreated  = "proposal_created"
	ActionProposalApproved = "proposal_approved"
	ActionProposalRejected = "proposal_rejected"
	ActionPolicyDenied     = "policy_denied"
	ActionVendorError      = "vendor_error"
	ActionTaskRun          = "task_run"
	ActionSystemCheck      = "system_check"
)

// Entry is one ledger row. Entries are never updated.
type Entry struct {
	ID         int64          `json:"id"`
	AgentID    string         `json:"agent_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	Cost       float64        `json:"cost"`
	UserID     string         `json:"user_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows GetRecent.
type Filter struct {
	Limit   int
	AgentID string
	Action  string
}

// Stats summarizes a period.
type Stats struct {
	Period       string  `json:"period"`
	TotalActions int64   `json:"total_actions"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	ActiveAgents int     `json:"active_agents"`
}

// Sink mirrors entries to an external system.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
	Close() error
}

// Logger writes and queries the audit_log table.
type Logger struct {
	db     *sql.DB
	rt     *config.Runtime
	sink   Sink
	filter func(days int) int
	now    func() time.Time
}

// NewLogger creates an audit logger.
func NewLogger(db *sql.DB, rt *config.Runtime) *Logger {
	return &Logger{db: db, rt: rt, now: time.Now}
}

// SetSink installs an optional mirror. Publish failures never fail Log.
func (l *Logger) SetSink(s Sink) { l.sink = s }

// SetRetentionFilter lets an operator override the retention window.
// Non-positive results fall back to the default.
func (l *Logger) SetRetentionFilter(fn func(days int) int) { l.filter = fn }

// SetClock overrides the time source.
func (l *Logger) SetClock(now func() time.Time) { l.now = now }

// Log appends e and returns its id.
func (l *Logger) Log(ctx context.Context, e Entry) (int64, error) {
	if e.AgentID == "" || e.Action == "" {
		return 0, fmt.Errorf("audit log: agent and action are required")
	}
	details := ""
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("encode audit details: %w", err)
		}
		details = string(data)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	res, err := l.db.ExecContext(ctx, `INSERT INTO audit_log
		(agent_id, action, target_type, target_id, details, reasoning, tokens_used, cost, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AgentID, e.Action, e.TargetType, e.TargetID, details, e.Reasoning, e.TokensUsed, e.Cost, e.UserID,
		store.Millis(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	if l.sink != nil {
		if err := l.sink.Publish(ctx, e); err != nil {
			slog.Warn("Audit sink publish failed", "id", e.ID, "error", err)
		}
	}
	return e.ID, nil
}

// GetRecent returns entries newest first.
func (l *Logger) GetRecent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, agent_id, action, target_type, target_id, details, reasoning, tokens_used, cost, user_id, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var details string
		var created int64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Action, &e.TargetType, &e.TargetID, &details, &e.Reasoning,
			&e.TokensUsed, &e.Cost, &e.UserID, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt = store.FromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PeriodDuration maps day, week and month to their windows.
func PeriodDuration(period string) (time.Duration, error) {
	switch period {
	case "", "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown period %q (want day, week or month)", period)
}

// GetStats aggregates entries in the period ending now.
func (l *Logger) GetStats(ctx context.Context, period string) (Stats, error) {
	window, err := PeriodDuration(period)
	if err != nil {
		return Stats{}, err
	}
	if period == "" {
		period = "day"
	}
	since := store.Millis(l.now().Add(-window))
	s := Stats{Period: period}
	err = l.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0),
		COUNT(DISTINCT agent_id) FROM audit_log WHERE created_at >= ?`, since).
		Scan(&s.TotalActions, &s.TotalTokens, &s.TotalCost, &s.ActiveAgents)
	if err != nil {
		return Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	return s, nil
}

// RetentionDays returns the effective retention window.
func (l *Logger) RetentionDays() int {
	days := l.rt.Current().Audit.RetentionDays
	if l.filter != nil {
		days = l.filter(days)
	}
	if days <= 0 {
		return config.DefaultAuditRetentionDays
	}
	return days
}

// CleanupExpired deletes entries older than the retention window.
func (l *Logger) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-time.Duration(l.RetentionDays()) * 24 * time.Hour)
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, store.Millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the sink.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
