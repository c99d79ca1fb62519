// Package orchestrator sequences a chat turn: security scan, cache lookup,
// vendor call, tool loop with proposal gating, cache write and audit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/cache"
	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/jobs"
	"github.com/KafClaw/siteagent/internal/metrics"
	"github.com/KafClaw/siteagent/internal/proposal"
	"github.com/KafClaw/siteagent/internal/provider"
	"github.com/KafClaw/siteagent/internal/security"
	"github.com/KafClaw/siteagent/internal/tools"
)

const defaultSystemPrompt = `You are an assistant that helps operate a website. Use the available tools to inspect site files, options, content and users. Changes may be held for human approval; when a tool reports a proposal, tell the user the change is awaiting review instead of claiming it was applied.`

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping() error
}

// Deps are the collaborators of an Orchestrator. Metrics and Pinger may be nil.
type Deps struct {
	Runtime   *config.Runtime
	Provider  provider.LLMProvider
	Filter    *security.Filter
	Cache     *cache.Cache
	Tools     *tools.Registry
	Proposals *proposal.Store
	Jobs      *jobs.Manager
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
	Store     Pinger
}

// Orchestrator handles chat turns, proposal actions, tasks and checks.
type Orchestrator struct {
	rt        *config.Runtime
	filter    *security.Filter
	cache     *cache.Cache
	tools     *tools.Registry
	proposals *proposal.Store
	jobs      *jobs.Manager
	audit     *audit.Logger
	metrics   *metrics.Metrics
	store     Pinger

	mu       sync.RWMutex
	provider provider.LLMProvider

	now func() time.Time
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		rt:        d.Runtime,
		provider:  d.Provider,
		filter:    d.Filter,
		cache:     d.Cache,
		tools:     d.Tools,
		proposals: d.Proposals,
		jobs:      d.Jobs,
		audit:     d.Audit,
		metrics:   d.Metrics,
		store:     d.Store,
		now:       time.Now,
	}
}

// SetProvider swaps the vendor client, e.g. after a config reload.
func (o *Orchestrator) SetProvider(p provider.LLMProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provider = p
}

func (o *Orchestrator) currentProvider() provider.LLMProvider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider
}

// Chat runs one synchronous turn. The error is reserved for storage and
// other integration failures.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return o.chat(ctx, req, nil)
}

type turn struct {
	o       *Orchestrator
	cfg     *config.Config
	req     ChatRequest
	agent   config.AgentEntry
	bucket  string
	report  jobs.ReportFunc
	start   time.Time
	res     *ChatResult
	pricing config.Pricing
}

func (t *turn) progress(p int, msg string) {
	if t.report != nil {
		t.report(p, msg)
	}
}

func (t *turn) fail(code, msg string) *ChatResult {
	t.res.Outcome = OutcomeFailed
	t.res.Code = code
	t.res.Error = msg
	t.res.DurationMS = time.Since(t.start).Milliseconds()
	t.o.metrics.ChatOutcome(t.req.AgentID, code)
	return t.res
}

func (o *Orchestrator) chat(ctx context.Context, req ChatRequest, report jobs.ReportFunc) (*ChatResult, error) {
	cfg := o.rt.Current()
	t := &turn{
		o:       o,
		cfg:     cfg,
		req:     req,
		report:  report,
		start:   time.Now(),
		res:     &ChatResult{ToolsUsed: []string{}},
		pricing: provider.PricingFor(cfg.Provider.Name, cfg.Provider.Pricing),
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return t.fail(CodeInvalidArgument, "agent_id is required"), nil
	}
	if a, ok := cfg.FindAgent(req.AgentID); ok {
		t.agent = a
	} else {
		t.agent = config.AgentEntry{ID: req.AgentID}
	}

	// 1. Security filter.
	t.progress(10, "security scan")
	scan, err := o.filter.Scan(ctx, req.Message, req.Requester)
	if err != nil {
		return nil, fmt.Errorf("security scan: %w", err)
	}
	if !scan.Pass {
		o.metrics.SecurityBlock(scan.Code)
		slog.Info("Chat blocked", "agent", req.AgentID, "code", scan.Code, "pattern", scan.Pattern)
		return t.fail(scan.Code, "message rejected by security filter"), nil
	}
	t.res.PIIWarning = scan.PIIWarning

	// 2. Cache lookup for stateless single-shot questions.
	t.bucket = cache.Bucket(req.Requester.UserID, req.Requester.Role)
	cacheable := len(req.History) == 0 && req.Image == nil
	if cacheable {
		t.progress(20, "cache lookup")
		entry, err := o.cache.Get(ctx, req.Message, req.AgentID, t.bucket)
		if err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		o.metrics.CacheLookup(entry != nil)
		if entry != nil {
			return o.cachedResult(ctx, t, entry)
		}
	}

	// 3-4. Vendor call and tool loop.
	final, ok, err := o.toolLoop(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.res.Code != "" {
		return t.res, nil
	}
	if !ok {
		o.logAudit(ctx, t, audit.ActionChatComplete, map[string]any{"outcome": CodeToolLoopExceeded})
		return t.fail(CodeToolLoopExceeded,
			fmt.Sprintf("no final answer after %d tool rounds", t.cfg.Agent.MaxToolIterations)), nil
	}

	// 5. Cache write and audit.
	t.progress(95, "finalizing")
	t.res.Response = final
	if cacheable {
		stored, err := o.cache.Set(ctx, req.Message, req.AgentID, t.bucket, len(req.History), cache.Result{
			Response:  final,
			Tokens:    t.res.TokensUsed,
			Cost:      t.res.Cost,
			ToolsUsed: t.res.ToolsUsed,
		})
		if err != nil {
			slog.Warn("Cache write failed", "agent", req.AgentID, "error", err)
		} else if stored {
			slog.Debug("Response cached", "agent", req.AgentID)
		}
	}
	action := audit.ActionChatComplete
	if len(t.res.ToolsUsed) > 0 {
		action = audit.ActionToolCall
	}
	o.logAudit(ctx, t, action, nil)

	t.res.Outcome = OutcomeCompleted
	if len(t.res.Proposals) > 0 {
		t.res.Outcome = OutcomeProposalPending
		t.res.PendingProposal = &t.res.Proposals[0]
	}
	t.res.DurationMS = time.Since(t.start).Milliseconds()
	o.metrics.ChatOutcome(req.AgentID, t.res.Outcome)
	o.metrics.Tokens(req.AgentID, t.res.TokensUsed)
	return t.res, nil
}

func (o *Orchestrator) cachedResult(ctx context.Context, t *turn, entry *cache.Entry) (*ChatResult, error) {
	t.res.Response = entry.Response
	t.res.Cached = true
	t.res.Outcome = OutcomeCached
	t.res.DurationMS = time.Since(t.start).Milliseconds()
	o.logAudit(ctx, t, audit.ActionCacheHit, map[string]any{"cache_key": entry.Key})
	o.metrics.ChatOutcome(t.req.AgentID, OutcomeCached)
	return t.res, nil
}

func (o *Orchestrator) buildMessages(t *turn) []provider.Message {
	prompt := t.agent.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	msgs := make([]provider.Message, 0, len(t.req.History)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: prompt})
	for _, m := range t.req.History {
		if m.Role == provider.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: t.req.Message, Image: t.req.Image})
}

func (o *Orchestrator) toolDefinitions(ctx context.Context, t *turn) []provider.ToolDefinition {
	defs := o.tools.Definitions(ctx, t.agent.Tools)
	out := make([]provider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// toolLoop calls the vendor until it returns text. ok is false when the
// round limit was hit. Vendor failures set t.res.Code.
func (o *Orchestrator) toolLoop(ctx context.Context, t *turn) (final string, ok bool, err error) {
	llm := o.currentProvider()
	if llm == nil {
		t.fail(CodeNotConfigured, vendorMessages[CodeNotConfigured])
		return "", false, nil
	}
	messages := o.buildMessages(t)
	toolDefs := o.toolDefinitions(ctx, t)
	maxRounds := t.cfg.Agent.MaxToolIterations
	if maxRounds <= 0 {
		maxRounds = config.DefaultMaxToolIterations
	}
	providerName := provider.NormalizeProviderID(t.cfg.Provider.Name)

	for round := 0; round < maxRounds; round++ {
		t.progress(30+round*50/maxRounds, fmt.Sprintf("calling vendor (round %d)", round+1))
		callStart := time.Now()
		resp, err := llm.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       t.cfg.Provider.Model,
			MaxTokens:   t.cfg.Provider.MaxTokens,
			Temperature: t.cfg.Provider.Temperature,
		})
		o.metrics.VendorRequest(providerName, time.Since(callStart), err)
		if err != nil {
			o.vendorFailure(ctx, t, err)
			return "", false, nil
		}
		o.addUsage(t, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			return resp.Content, true, nil
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			content, err := o.handleToolCall(ctx, t, tc)
			if err != nil {
				return "", false, err
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}
	return "", false, nil
}

func (o *Orchestrator) addUsage(t *turn, u provider.Usage) {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	t.res.TokensUsed += total
	t.res.Cost += provider.CalculateCost(t.pricing, u)
}

func (o *Orchestrator) vendorFailure(ctx context.Context, t *turn, err error) {
	code := CodeVendorError
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		code = CodeNotConfigured
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}
	elapsed := time.Since(t.start)
	slog.Warn("Vendor call failed", "agent", t.req.AgentID, "code", code, "elapsed", elapsed, "error", err)
	if code != CodeNotConfigured {
		o.logAudit(ctx, t, audit.ActionVendorError, map[string]any{
			"code":       code,
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
	t.fail(code, vendorMessages[code])
}

// vendorMessages are what callers see. Vendor error text stays in the log
// and the audit entry.
var vendorMessages = map[string]string{
	CodeNotConfigured: "the model provider is not configured",
	CodeTimeout:       "the model provider timed out",
	CodeVendorError:   "the model provider request failed",
}

// handleToolCall executes, proposes or refuses one tool call and returns
// the tool message content for the model. Only integration failures are
// returned as errors.
func (o *Orchestrator) handleToolCall(ctx context.Context, t *turn, tc provider.ToolCall) (string, error) {
	t.progress(85, "tool call "+tc.Name)
	tool, err := o.tools.Lookup(ctx, tc.Name)
	if err == nil && !agentAllows(t.agent, tc.Name) {
		err = tools.Errorf(tools.KindToolNotAllowed, "tool %s is not available to agent %s", tc.Name, t.agent.ID)
	}
	if err != nil {
		o.toolRefused(ctx, t, tc, err)
		return "Error: " + err.Error(), nil
	}
	t.res.ToolsUsed = appendUnique(t.res.ToolsUsed, tc.Name)

	if tools.RequiresConfirmation(tool, t.cfg.Agent.ConfirmationMode) {
		return o.propose(ctx, t, tc)
	}

	out, err := o.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		if tools.KindOf(err) == "" {
			return "", fmt.Errorf("tool %s: %w", tc.Name, err)
		}
		o.toolRefused(ctx, t, tc, err)
		return "Error: " + err.Error(), nil
	}
	o.metrics.ToolCall(tc.Name, "executed")
	if tools.IsWrite(tool) {
		o.invalidateCache(ctx)
	}
	slog.Debug("Tool executed", "name", tc.Name, "result_length", len(out))
	return out, nil
}

func (o *Orchestrator) propose(ctx context.Context, t *turn, tc provider.ToolCall) (string, error) {
	preview, err := o.tools.Preview(ctx, tc.Name, tc.Arguments)
	if err != nil {
		if tools.KindOf(err) == "" {
			return "", fmt.Errorf("preview %s: %w", tc.Name, err)
		}
		o.toolRefused(ctx, t, tc, err)
		return "Error: " + err.Error(), nil
	}
	p, err := o.proposals.Create(ctx, proposal.CreateParams{
		AgentID:     t.req.AgentID,
		Tool:        tc.Name,
		Arguments:   tc.Arguments,
		Description: preview.Description,
		Diff:        preview.Diff,
	})
	if err != nil {
		return "", err
	}
	t.res.Proposals = append(t.res.Proposals, PendingProposal{
		ID: p.ID, Tool: p.Tool, Description: p.Description, Diff: p.Diff,
	})
	o.metrics.ToolCall(tc.Name, "proposed")
	if _, err := o.audit.Log(ctx, audit.Entry{
		AgentID:    t.req.AgentID,
		Action:     audit.ActionProposalCreated,
		TargetType: "proposal",
		TargetID:   p.ID,
		Details:    map[string]any{"tool": tc.Name, "description": p.Description},
		UserID:     t.req.Requester.UserID,
	}); err != nil {
		return "", fmt.Errorf("audit proposal: %w", err)
	}
	return fmt.Sprintf("Proposal %s created and awaiting human approval: %s. The change has NOT been applied yet.",
		p.ID, p.Description), nil
}

func (o *Orchestrator) toolRefused(ctx context.Context, t *turn, tc provider.ToolCall, err error) {
	o.metrics.ToolCall(tc.Name, "error")
	if !tools.IsPolicy(err) {
		return
	}
	slog.Warn("Tool call refused", "agent", t.req.AgentID, "tool", tc.Name, "kind", tools.KindOf(err))
	if _, aerr := o.audit.Log(ctx, audit.Entry{
		AgentID:    t.req.AgentID,
		Action:     audit.ActionPolicyDenied,
		TargetType: "tool",
		TargetID:   tc.Name,
		Details:    map[string]any{"kind": tools.KindOf(err), "error": err.Error()},
		UserID:     t.req.Requester.UserID,
	}); aerr != nil {
		slog.Warn("Policy audit not recorded", "tool", tc.Name, "error", aerr)
	}
}

func (o *Orchestrator) invalidateCache(ctx context.Context) {
	if n, err := o.cache.ClearAll(ctx); err != nil {
		slog.Warn("Cache invalidation failed", "error", err)
	} else if n > 0 {
		slog.Debug("Cache invalidated after write", "entries", n)
	}
}

func (o *Orchestrator) logAudit(ctx context.Context, t *turn, action string, extra map[string]any) {
	details := map[string]any{
		"tools_used": t.res.ToolsUsed,
		"cached":     t.res.Cached,
	}
	if t.req.SessionID != "" {
		details["session_id"] = t.req.SessionID
	}
	if len(t.res.Proposals) > 0 {
		ids := make([]string, 0, len(t.res.Proposals))
		for _, p := range t.res.Proposals {
			ids = append(ids, p.ID)
		}
		details["proposals"] = ids
	}
	for k, v := range extra {
		details[k] = v
	}
	tokens, cost := t.res.TokensUsed, t.res.Cost
	if t.res.Cached {
		tokens, cost = 0, 0
	}
	if _, err := o.audit.Log(ctx, audit.Entry{
		AgentID:    t.req.AgentID,
		Action:     action,
		TargetType: "chat",
		Details:    details,
		TokensUsed: tokens,
		Cost:       cost,
		UserID:     t.req.Requester.UserID,
	}); err != nil {
		slog.Warn("Audit entry not recorded", "agent", t.req.AgentID, "action", action, "error", err)
	}
}

// agentAllows reports whether the agent's tool subset includes name. An
// empty subset allows every enabled tool.
func agentAllows(agent config.AgentEntry, name string) bool {
	if len(agent.Tools) == 0 {
		return true
	}
	for _, n := range agent.Tools {
		if n == name {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
