// Package proposal turns pending write-tool calls into reviewable change
// proposals and tracks their approve/reject lifecycle.
package proposal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// Proposal statuses. Approved and rejected are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Action result error codes.
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeAlreadyResolved = "already_resolved"
	ErrCodeExpired         = "expired"
	ErrCodeExecution       = "execution_failed"
	ErrCodeInvalidAction   = "invalid_action"
)

// Proposal is a pending write-tool invocation awaiting a human decision.
type Proposal struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	Description string         `json:"description"`
	Diff        string         `json:"diff,omitempty"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  time.Time      `json:"resolved_at,omitempty"`
}

// ActionResult is the value-level outcome of approve or reject.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  string `json:"result,omitempty"`
}

func failed(code, format string, args ...any) ActionResult {
	return ActionResult{Error: code + ": " + fmt.Sprintf(format, args...)}
}

// Executor runs an approved tool call.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (string, error)
}

// Notifier is told about newly created proposals.
type Notifier interface {
	ProposalCreated(ctx context.Context, p *Proposal) error
}

// CreateParams describes a new proposal.
type CreateParams struct {
	AgentID     string
	Tool        string
	Arguments   map[string]any
	Description string
	Diff        string
}

// Store persists proposals in the proposals table.
type Store struct {
	db     *sql.DB
	rt     *config.Runtime
	exec   Executor
	notify Notifier
	now    func() time.Time
}

// NewStore creates a proposal store. exec runs tools on approval.
func NewStore(db *sql.DB, rt *config.Runtime, exec Executor) *Store {
	return &Store{db: db, rt: rt, exec: exec, now: time.Now}
}

// SetNotifier installs an optional notifier for new proposals.
func (s *Store) SetNotifier(n Notifier) { s.notify = n }

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Create stores a new pending proposal with a random id.
func (s *Store) Create(ctx context.Context, cp CreateParams) (*Proposal, error) {
	if cp.Tool == "" {
		return nil, fmt.Errorf("create proposal: tool is required")
	}
	if cp.Arguments == nil {
		cp.Arguments = map[string]any{}
	}
	args, err := json.Marshal(cp.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encode proposal arguments: %w", err)
	}
	now := s.now()
	p := &Proposal{
		ID:          newProposalID(),
		AgentID:     cp.AgentID,
		Tool:        cp.Tool,
		Arguments:   cp.Arguments,
		Description: cp.Description,
		Diff:        cp.Diff,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.rt.Current().Proposals.TTL),
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO proposals (id, agent_id, tool, arguments, description, diff, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, p.Tool, string(args), p.Description, p.Diff, p.Status,
		store.Millis(p.CreatedAt), store.Millis(p.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}
	if s.notify != nil {
		if err := s.notify.ProposalCreated(ctx, p); err != nil {
			slog.Warn("Proposal notification failed", "id", p.ID, "error", err)
		}
	}
	return p, nil
}

const proposalColumns = `id, agent_id, tool, arguments, description, diff, status, result, created_at, expires_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(sc rowScanner) (*Proposal, error) {
	var p Proposal
	var args string
	var created, expires, resolved int64
	if err := sc.Scan(&p.ID, &p.AgentID, &p.Tool, &args, &p.Description, &p.Diff, &p.Status, &p.Result,
		&created, &expires, &resolved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &p.Arguments); err != nil {
		p.Arguments = map[string]any{}
	}
	p.CreatedAt = store.FromMillis(created)
	p.ExpiresAt = store.FromMillis(expires)
	if resolved > 0 {
		p.ResolvedAt = store.FromMillis(resolved)
	}
	return &p, nil
}

// Get returns a proposal, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// transition moves a pending proposal to status in one statement. It returns
// false when the proposal was not pending (or, for approvals, had expired).
func (s *Store) transition(ctx context.Context, id, status string, requireLive bool) (bool, error) {
	now := store.Millis(s.now())
	query := `UPDATE proposals SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`
	args := []any{status, now, id}
	if requireLive {
		query += ` AND expires_at > ?`
		args = append(args, now)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update proposal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// refusal explains why a transition did not apply.
func (s *Store) refusal(ctx context.Context, id string) (ActionResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	switch {
	case p == nil:
		return failed(ErrCodeNotFound, "proposal %s not found", id), nil
	case p.Status != StatusPending:
		return failed(ErrCodeAlreadyResolved, "proposal %s is already %s", id, p.Status), nil
	default:
		return failed(ErrCodeExpired, "proposal %s expired at %s", id, p.ExpiresAt.Format(time.RFC3339)), nil
	}
}

// Approve claims a pending proposal and executes its tool call. The claim
// happens before execution, so a proposal runs at most once.
func (s *Store) Approve(ctx context.Context, id string) (ActionResult, error) {
	ok, err := s.transition(ctx, id, StatusApproved, true)
	if err != nil {
		return ActionResult{}, err
	}
	if !ok {
		return s.refusal(ctx, id)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return ActionResult{}, err
	}
	if p == nil {
		return failed(ErrCodeNotFound, "proposal %s disappeared", id), nil
	}

	out, execErr := s.exec.Execute(ctx, p.Tool, p.Arguments)
	result := out
	if execErr != nil {
		result = "Error: " + execErr.Error()
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE proposals SET result = ? WHERE id = ?`, result, id); err != nil {
		return ActionResult{}, fmt.Errorf("record proposal result: %w", err)
	}
	if execErr != nil {
		return ActionResult{Error: ErrCodeExecution + ": " + execErr.Error(), Result: result}, nil
	}
	return ActionResult{Success: true, Result: out}, nil
}

// Reject marks a pending proposal rejected. Nothing is executed.
func (s *Store) Reject(ctx context.Context, id string) (ActionResult, error) {
	ok, err := s.transition(ctx, id, StatusRejected, false)
	if err != nil {
		return ActionResult{}, err
	}
	if !ok {
		return s.refusal(ctx, id)
	}
	return ActionResult{Success: true}, nil
}

// Act dispatches "approve" or "reject".
func (s *Store) Act(ctx context.Context, id, action string) (ActionResult, error) {
	switch action {
	case "approve":
		return s.Approve(ctx, id)
	case "reject":
		return s.Reject(ctx, id)
	}
	return failed(ErrCodeInvalidAction, "unknown action %q", action), nil
}

// ListPending returns live pending proposals, oldest first. agentID may be empty.
func (s *Store) ListPending(ctx context.Context, agentID string, limit int) ([]*Proposal, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE status = 'pending' AND expires_at > ?`
	args := []any{store.Millis(s.now())}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgeExpired deletes pending proposals past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE status = 'pending' AND expires_at <= ?`,
		store.Millis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge proposals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func newProposalID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("prop-%d", time.Now().UnixNano())
}
