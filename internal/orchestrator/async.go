package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/jobs"
	"github.com/KafClaw/siteagent/internal/proposal"
	"github.com/KafClaw/siteagent/internal/security"
)

// Job processor names.
const (
	ProcessorChat = "chat"
	ProcessorTask = "task"
)

// SchedulerUser is the requester identity for scheduled work.
const SchedulerUser = "system:scheduler"

// RegisterProcessors wires the chat and task processors into a runner.
func (o *Orchestrator) RegisterProcessors(r *jobs.Runner) {
	r.Register(ProcessorChat, o.ProcessChatJob)
	r.Register(ProcessorTask, o.ProcessTaskJob)
}

// Enqueue stores a chat turn for background processing and returns the job id.
func (o *Orchestrator) Enqueue(ctx context.Context, req ChatRequest) (string, error) {
	if req.AgentID == "" {
		return "", errors.New("agent_id is required")
	}
	return o.jobs.CreateJob(ctx, req.Requester.UserID, req.AgentID, ProcessorChat, req)
}

// ProcessChatJob runs a queued chat turn. A turn that ends with a failure
// code fails the job.
func (o *Orchestrator) ProcessChatJob(ctx context.Context, job *jobs.Job, report jobs.ReportFunc) (any, error) {
	var req ChatRequest
	if err := job.DecodeRequest(&req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		req.AgentID = job.AgentID
	}
	report(5, "starting")
	res, err := o.chat(ctx, req, report)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, fmt.Errorf("%s: %s", res.Code, res.Error)
	}
	return res, nil
}

type taskRequest struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
}

// EnqueueTask queues an agent task for the job runner.
func (o *Orchestrator) EnqueueTask(ctx context.Context, agentID, taskID string) (string, error) {
	return o.jobs.CreateJob(ctx, SchedulerUser, agentID, ProcessorTask, taskRequest{AgentID: agentID, TaskID: taskID})
}

// ProcessTaskJob runs a queued agent task.
func (o *Orchestrator) ProcessTaskJob(ctx context.Context, job *jobs.Job, report jobs.ReportFunc) (any, error) {
	var req taskRequest
	if err := job.DecodeRequest(&req); err != nil {
		return nil, err
	}
	report(10, "running task "+req.TaskID)
	res, err := o.RunTask(ctx, req.AgentID, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.New(res.Message)
	}
	return res, nil
}

// RunTask runs a configured agent task as a chat turn from the scheduler.
func (o *Orchestrator) RunTask(ctx context.Context, agentID, taskID string) (*TaskResult, error) {
	start := time.Now()
	agent, ok := o.rt.Current().FindAgent(agentID)
	if !ok {
		return &TaskResult{Message: CodeUnknownAgent + ": " + agentID}, nil
	}
	var prompt string
	for _, t := range agent.Tasks {
		if t.ID == taskID {
			prompt = t.Prompt
			break
		}
	}
	if prompt == "" {
		return &TaskResult{Message: CodeUnknownTask + ": " + taskID}, nil
	}

	res, err := o.Chat(ctx, ChatRequest{
		AgentID:   agentID,
		Message:   prompt,
		Requester: security.Requester{UserID: SchedulerUser, Role: "system"},
	})
	if err != nil {
		return nil, err
	}
	out := &TaskResult{
		Success:    !res.Failed(),
		DurationMS: time.Since(start).Milliseconds(),
		Response:   res.Response,
	}
	if res.Failed() {
		out.Message = res.Code + ": " + res.Error
	}
	if _, err := o.audit.Log(ctx, audit.Entry{
		AgentID:    agentID,
		Action:     audit.ActionTaskRun,
		TargetType: "task",
		TargetID:   taskID,
		Details:    map[string]any{"success": out.Success, "duration_ms": out.DurationMS, "message": out.Message},
		TokensUsed: res.TokensUsed,
		Cost:       res.Cost,
		UserID:     SchedulerUser,
	}); err != nil {
		slog.Warn("Task audit not recorded", "agent", agentID, "task", taskID, "error", err)
	}
	return out, nil
}

// ProposalAction approves or rejects a proposal on behalf of userID.
func (o *Orchestrator) ProposalAction(ctx context.Context, id, action, userID string) (proposal.ActionResult, error) {
	p, err := o.proposals.Get(ctx, id)
	if err != nil {
		return proposal.ActionResult{}, err
	}
	res, err := o.proposals.Act(ctx, id, action)
	if err != nil {
		return res, err
	}
	// Refusals (unknown, expired, already resolved) change nothing.
	executed := strings.HasPrefix(res.Error, proposal.ErrCodeExecution)
	if p == nil || (!res.Success && !executed) {
		return res, nil
	}

	entry := audit.Entry{
		AgentID:    p.AgentID,
		TargetType: "proposal",
		TargetID:   id,
		Details:    map[string]any{"tool": p.Tool, "success": res.Success, "error": res.Error},
		UserID:     userID,
	}
	switch action {
	case "approve":
		entry.Action = audit.ActionProposalApproved
		if res.Success {
			o.invalidateCache(ctx)
		}
	case "reject":
		entry.Action = audit.ActionProposalRejected
	}
	if entry.Action != "" {
		if _, err := o.audit.Log(ctx, entry); err != nil {
			slog.Warn("Proposal audit not recorded", "id", id, "error", err)
		}
	}
	return res, nil
}
