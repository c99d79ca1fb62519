package orchestrator

import (
	"github.com/KafClaw/siteagent/internal/provider"
	"github.com/KafClaw/siteagent/internal/security"
)

// Chat outcomes.
const (
	OutcomeCompleted       = "completed"
	OutcomeCached          = "cached"
	OutcomeProposalPending = "proposal_pending"
	OutcomeFailed          = "failed"
)

// Failure codes beyond the security filter's.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotConfigured    = "not_configured"
	CodeTimeout          = "timeout"
	CodeVendorError      = "vendor_error"
	CodeToolLoopExceeded = "tool_loop_exceeded"
	CodeUnknownAgent     = "unknown_agent"
	CodeUnknownTask      = "unknown_task"
)

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	AgentID   string             `json:"agent_id"`
	Message   string             `json:"message"`
	SessionID string             `json:"session_id,omitempty"`
	History   []provider.Message `json:"history,omitempty"`
	Image     *provider.Image    `json:"image,omitempty"`
	Requester security.Requester `json:"requester"`
}

// PendingProposal is surfaced to the caller when a write was proposed
// instead of executed.
type PendingProposal struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Diff        string `json:"diff,omitempty"`
}

// ChatResult is the structured outcome of a chat turn. Failures carry a
// Code; nothing about a failed turn is returned as a Go error.
type ChatResult struct {
	Response        string            `json:"response"`
	TokensUsed      int               `json:"tokens_used"`
	Cost            float64           `json:"cost"`
	ToolsUsed       []string          `json:"tools_used"`
	Cached          bool              `json:"cached"`
	PendingProposal *PendingProposal  `json:"pending_proposal,omitempty"`
	Proposals       []PendingProposal `json:"proposals,omitempty"`
	PIIWarning      []string          `json:"pii_warning,omitempty"`
	Outcome         string            `json:"outcome"`
	Code            string            `json:"code,omitempty"`
	Error           string            `json:"error,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
}

// Failed reports whether the turn ended with a failure code.
func (r *ChatResult) Failed() bool { return r.Code != "" }

// TaskResult is the outcome of running an agent task.
type TaskResult struct {
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
	Response   string `json:"response,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Check is one system check line.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Check statuses, ordered by severity.
const (
	CheckOK   = "ok"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// CheckReport aggregates system checks.
type CheckReport struct {
	Checks  []Check `json:"checks"`
	Overall string  `json:"overall"`
}
