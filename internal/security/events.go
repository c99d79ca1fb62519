package security

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// Event types.
const (
	EventBlocked     = "blocked"
	EventRateLimited = "rate_limited"
	EventPIIWarning  = "pii_warning"
)

const maxEventMessage = 200

// Event is one security log row.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"event_type"`
	Requester Requester `json:"requester"`
	Message   string    `json:"message"`
	Pattern   string    `json:"pattern_matched,omitempty"`
	PIITypes  []string  `json:"pii_types,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventLog is the append-only security_log table.
type EventLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventLog wraps the shared database.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (l *EventLog) SetClock(now func() time.Time) { l.now = now }

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Log appends ev. The message is truncated to 200 characters.
func (l *EventLog) Log(ctx context.Context, ev Event) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO security_log
		(event_type, user_id, ip_address, message, pattern_matched, pii_types, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.Requester.UserID, ev.Requester.IP, truncate(ev.Message, maxEventMessage),
		ev.Pattern, strings.Join(ev.PIITypes, ","), store.Millis(l.now()))
	if err != nil {
		return fmt.Errorf("log security event: %w", err)
	}
	return nil
}

// Recent returns the newest events, optionally filtered by type.
func (l *EventLog) Recent(ctx context.Context, limit int, eventType string) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, event_type, user_id, ip_address, message, pattern_matched, pii_types, created_at FROM security_log`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var pii string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Requester.UserID, &ev.Requester.IP, &ev.Message, &ev.Pattern, &pii, &created); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if pii != "" {
			ev.PIITypes = strings.Split(pii, ",")
		}
		ev.CreatedAt = store.FromMillis(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Counts returns event counts by type since the given time.
func (l *EventLog) Counts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM security_log WHERE created_at >= ? GROUP BY event_type`, store.Millis(since))
	if err != nil {
		return nil, fmt.Errorf("count security events: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retentionDays. Non-positive values fall
// back to the 30 day default.
func (l *EventLog) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = config.DefaultSecurityRetention
	}
	cutoff := l.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res, err := l.db.ExecContext(ctx, `DELETE FROM security_log WHERE created_at < ?`, store.Millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup security events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
