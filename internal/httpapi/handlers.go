package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KafClaw/siteagent/internal/audit"
	"github.com/KafClaw/siteagent/internal/orchestrator"
	"github.com/KafClaw/siteagent/internal/proposal"
	"github.com/KafClaw/siteagent/internal/provider"
	"github.com/KafClaw/siteagent/internal/security"
	"github.com/KafClaw/siteagent/internal/tools"
)

const maxBodyBytes = 8 << 20

type chatBody struct {
	AgentID   string             `json:"agent_id"`
	Message   string             `json:"message"`
	SessionID string             `json:"session_id"`
	History   []provider.Message `json:"history"`
	Image     *provider.Image    `json:"image"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"code": code, "error": message})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "internal", "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, orchestrator.CodeInvalidArgument, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// requester derives the caller identity from the forwarded headers and the
// client address.
func requester(r *http.Request) security.Requester {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return security.Requester{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:   strings.TrimSpace(r.Header.Get(HeaderUserRole)),
		IP:     ip,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// chatStatus maps a failure code onto an HTTP status.
func chatStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case security.CodeRateLimited:
		return http.StatusTooManyRequests
	case security.CodeEmptyMessage, security.CodeInvalidFormat, security.CodeBannedContent, orchestrator.CodeInvalidArgument:
		return http.StatusBadRequest
	case orchestrator.CodeNotConfigured:
		return http.StatusServiceUnavailable
	case orchestrator.CodeTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.CodeVendorError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.d.Version})
}

func (s *Server) chatRequest(w http.ResponseWriter, r *http.Request) (orchestrator.ChatRequest, bool) {
	var body chatBody
	if !decodeJSON(w, r, &body) {
		return orchestrator.ChatRequest{}, false
	}
	return orchestrator.ChatRequest{
		AgentID:   body.AgentID,
		Message:   body.Message,
		SessionID: body.SessionID,
		History:   body.History,
		Image:     body.Image,
		Requester: requester(r),
	}, true
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r)
	if !ok {
		return
	}
	res, err := s.d.Orchestrator.Chat(r.Context(), req)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, chatStatus(res.Code), res)
}

func (s *Server) chatAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.chatRequest(w, r)
	if !ok {
		return
	}
	if req.AgentID == "" {
		respondError(w, http.StatusBadRequest, orchestrator.CodeInvalidArgument, "agent_id is required")
		return
	}
	id, err := s.d.Orchestrator.Enqueue(r.Context(), req)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "pending"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Jobs.GetUserJobs(r.Context(), requester(r).UserID, r.URL.Query().Get("status"), queryInt(r, "limit", 20))
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.d.Jobs.GetStats(r.Context(), requester(r).UserID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// visibleJob checks ownership: a caller that names a user sees only that
// user's jobs.
func (s *Server) visibleJob(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "jobID")
	job, err := s.d.Jobs.GetJob(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return "", false
	}
	user := requester(r).UserID
	if job == nil || (user != "" && job.UserID != user) {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return "", false
	}
	return id, true
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.visibleJob(w, r)
	if !ok {
		return
	}
	job, err := s.d.Jobs.GetJob(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.visibleJob(w, r)
	if !ok {
		return
	}
	cancelled, err := s.d.Jobs.CancelJob(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "not_pending", "only pending jobs can be cancelled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": true})
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Proposals.ListPending(r.Context(), r.URL.Query().Get("agent_id"), queryInt(r, "limit", 50))
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"proposals": list})
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Proposals.Get(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, proposal.ErrCodeNotFound, "proposal not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func proposalStatus(res proposal.ActionResult) int {
	if res.Success {
		return http.StatusOK
	}
	code, _, _ := strings.Cut(res.Error, ":")
	switch code {
	case proposal.ErrCodeNotFound:
		return http.StatusNotFound
	case proposal.ErrCodeAlreadyResolved, proposal.ErrCodeExpired:
		return http.StatusConflict
	case proposal.ErrCodeInvalidAction:
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) proposalAction(w http.ResponseWriter, r *http.Request) {
	id, action := chi.URLParam(r, "proposalID"), chi.URLParam(r, "action")
	res, err := s.d.Orchestrator.ProposalAction(r.Context(), id, action, requester(r).UserID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, proposalStatus(res), res)
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	agentID, taskID := chi.URLParam(r, "agentID"), chi.URLParam(r, "taskID")
	if r.URL.Query().Get("async") == "true" {
		if _, ok := s.d.Runtime.Current().FindAgent(agentID); !ok {
			respondError(w, http.StatusNotFound, orchestrator.CodeUnknownAgent, "unknown agent "+agentID)
			return
		}
		id, err := s.d.Orchestrator.EnqueueTask(r.Context(), agentID, taskID)
		if err != nil {
			internalError(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "pending"})
		return
	}
	res, err := s.d.Orchestrator.RunTask(r.Context(), agentID, taskID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	status := http.StatusOK
	switch {
	case strings.HasPrefix(res.Message, orchestrator.CodeUnknownAgent), strings.HasPrefix(res.Message, orchestrator.CodeUnknownTask):
		status = http.StatusNotFound
	case !res.Success:
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, res)
}

func (s *Server) systemCheck(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Orchestrator.SystemCheck(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	status := http.StatusOK
	if rep.Overall == orchestrator.CheckFail {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, rep)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)
	if agent := r.URL.Query().Get("agent_id"); agent != "" {
		n, err = s.d.Cache.InvalidateAgent(r.Context(), agent)
	} else {
		n, err = s.d.Cache.ClearAll(r.Context())
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) recentAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.d.Audit.GetRecent(r.Context(), audit.Filter{
		Limit:   queryInt(r, "limit", 50),
		AgentID: q.Get("agent_id"),
		Action:  q.Get("action"),
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}
	if _, err := audit.PeriodDuration(period); err != nil {
		respondError(w, http.StatusBadRequest, orchestrator.CodeInvalidArgument, err.Error())
		return
	}
	stats, err := s.d.Audit.GetStats(r.Context(), period)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Write       bool   `json:"write"`
	Disabled    bool   `json:"disabled"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	if s.d.Tools == nil {
		internalError(w, r, errors.New("tool registry not wired"))
		return
	}
	disabled := s.d.Tools.Disabled(r.Context())
	var out []toolView
	for _, name := range s.d.Tools.Names() {
		t, _ := s.d.Tools.Get(name)
		out = append(out, toolView{
			Name:        name,
			Description: t.Description(),
			Write:       tools.IsWrite(t),
			Disabled:    disabled[name],
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"tools": out})
}
