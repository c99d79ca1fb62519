// Package jobs is the persistent queue for deferred agent work. A job moves
// pending -> processing -> completed|failed, or pending -> cancelled.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether status is final.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a unit of deferred agent work.
type Job struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	AgentID      string          `json:"agent_id"`
	Processor    string          `json:"processor"`
	RequestData  json.RawMessage `json:"request_data,omitempty"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DecodeRequest unmarshals the request payload into v.
func (j *Job) DecodeRequest(v any) error {
	if len(j.RequestData) == 0 {
		return fmt.Errorf("job %s has no request data", j.ID)
	}
	return json.Unmarshal(j.RequestData, v)
}

// Patch is a merge-patch for UpdateJob. Nil fields are left unchanged.
type Patch struct {
	Status       *string
	Progress     *int
	Message      *string
	ResponseData any
	ErrorMessage *string
}

// Stats counts a user's jobs by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Manager persists jobs in the jobs table.
type Manager struct {
	db  *sql.DB
	rt  *config.Runtime
	now func() time.Time
}

// NewManager creates a job manager.
func NewManager(db *sql.DB, rt *config.Runtime) *Manager {
	return &Manager{db: db, rt: rt, now: time.Now}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateJob persists a pending job and returns its UUID.
func (m *Manager) CreateJob(ctx context.Context, userID, agentID, processor string, requestData any) (string, error) {
	if processor == "" {
		return "", fmt.Errorf("create job: processor is required")
	}
	payload := ""
	if requestData != nil {
		data, err := json.Marshal(requestData)
		if err != nil {
			return "", fmt.Errorf("encode job request: %w", err)
		}
		payload = string(data)
	}
	id := uuid.NewString()
	now := store.Millis(m.now())
	_, err := m.db.ExecContext(ctx, `INSERT INTO jobs (id, user_id, agent_id, processor, request_data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`, id, userID, agentID, processor, payload, now, now)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// UpdateJob applies p in a single statement. Returns false for an unknown id.
func (m *Manager) UpdateJob(ctx context.Context, id string, p Patch) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{store.Millis(m.now())}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if p.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, clampProgress(*p.Progress))
	}
	if p.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *p.Message)
	}
	if p.ResponseData != nil {
		data, err := json.Marshal(p.ResponseData)
		if err != nil {
			return false, fmt.Errorf("encode job response: %w", err)
		}
		sets = append(sets, "response_data = ?")
		args = append(args, string(data))
	}
	if p.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *p.ErrorMessage)
	}
	args = append(args, id)
	res, err := m.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

const jobColumns = `id, user_id, agent_id, processor, request_data, status, progress, message, response_data, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner) (*Job, error) {
	var j Job
	var req, resp string
	var created, updated int64
	if err := sc.Scan(&j.ID, &j.UserID, &j.AgentID, &j.Processor, &req, &j.Status, &j.Progress,
		&j.Message, &resp, &j.ErrorMessage, &created, &updated); err != nil {
		return nil, err
	}
	if req != "" {
		j.RequestData = json.RawMessage(req)
	}
	if resp != "" {
		j.ResponseData = json.RawMessage(resp)
	}
	j.CreatedAt = store.FromMillis(created)
	j.UpdatedAt = store.FromMillis(updated)
	return &j, nil
}

// GetJob returns a job, or nil if the id is unknown.
func (m *Manager) GetJob(ctx context.Context, id string) (*Job, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Claim moves a pending job to processing. Only one caller can win.
func (m *Manager) Claim(ctx context.Context, id string) (bool, error) {
	res, err := m.db.ExecContext(ctx, `UPDATE jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		store.Millis(m.now()), id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClaimNext claims the oldest pending job. Returns nil when the queue is empty.
func (m *Manager) ClaimNext(ctx context.Context) (*Job, error) {
	var id string
	err := m.db.QueryRowContext(ctx, `UPDATE jobs SET status = 'processing', updated_at = ?
		WHERE id = (SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at, id LIMIT 1)
		AND status = 'pending'
		RETURNING id`, store.Millis(m.now())).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return m.GetJob(ctx, id)
}

// CancelJob cancels a pending job. Any other state returns false unchanged.
func (m *Manager) CancelJob(ctx context.Context, id string) (bool, error) {
	res, err := m.db.ExecContext(ctx, `UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE id = ? AND status = 'pending'`,
		store.Millis(m.now()), id)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetUserJobs lists a user's jobs newest first. status may be empty.
func (m *Manager) GetUserJobs(ctx context.Context, userID, status string, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetStats counts jobs by status. An empty userID counts every user.
func (m *Manager) GetStats(ctx context.Context, userID string) (Stats, error) {
	query := `SELECT status, COUNT(*) FROM jobs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY status`
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan job stats: %w", err)
		}
		switch status {
		case StatusPending:
			s.Pending = n
		case StatusProcessing:
			s.Processing = n
		case StatusCompleted:
			s.Completed = n
		case StatusFailed:
			s.Failed = n
		case StatusCancelled:
			s.Cancelled = n
		}
		s.Total += n
	}
	return s, rows.Err()
}

// CleanupOldJobs deletes terminal jobs not updated within the retention window.
func (m *Manager) CleanupOldJobs(ctx context.Context) (int, error) {
	hours := m.rt.Current().Jobs.RetentionHours
	if hours <= 0 {
		hours = config.DefaultJobRetentionHours
	}
	cutoff := m.now().Add(-time.Duration(hours) * time.Hour)
	res, err := m.db.ExecContext(ctx, `DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?`, store.Millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// StaleJobMessage is the error recorded on jobs failed by FailStale.
const StaleJobMessage = "job abandoned while processing"

// FailStale fails processing jobs not updated within olderThan. A job that
// reports progress in the meantime is left alone.
func (m *Manager) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = config.DefaultJobStaleAfter
	}
	now := m.now()
	res, err := m.db.ExecContext(ctx, `UPDATE jobs SET status = 'failed', error_message = ?, updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		StaleJobMessage, store.Millis(now), store.Millis(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Complete marks a job completed with its response.
func (m *Manager) Complete(ctx context.Context, id string, response any) error {
	status, progress := StatusCompleted, 100
	_, err := m.UpdateJob(ctx, id, Patch{Status: &status, Progress: &progress, ResponseData: response})
	return err
}

// Fail marks a job failed with msg.
func (m *Manager) Fail(ctx context.Context, id, msg string) error {
	status := StatusFailed
	_, err := m.UpdateJob(ctx, id, Patch{Status: &status, ErrorMessage: &msg})
	return err
}
