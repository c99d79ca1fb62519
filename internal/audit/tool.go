package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KafClaw/siteagent/internal/tools"
)

// RecentToolName is the agent-contributed tool exposing the ledger.
const RecentToolName = "audit_recent"

// RegisterTools contributes audit_recent to r for auditor agents.
func (l *Logger) RegisterTools(r *tools.Registry) error {
	return r.RegisterTool(tools.Definition{
		Name:        RecentToolName,
		Description: "List recent agent actions from the audit log, newest first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_id": map[string]any{"type": "string", "description": "Only actions by this agent"},
				"action":   map[string]any{"type": "string", "description": "Only this action, e.g. tool_call"},
				"limit":    map[string]any{"type": "integer", "description": "Maximum entries (default 20)"},
			},
		},
	}, func(ctx context.Context, params map[string]any) (string, error) {
		entries, err := l.GetRecent(ctx, Filter{
			AgentID: tools.GetString(params, "agent_id", ""),
			Action:  tools.GetString(params, "action", ""),
			Limit:   tools.GetInt(params, "limit", 20),
		})
		if err != nil {
			return "", fmt.Errorf("read audit log: %w", err)
		}
		if len(entries) == 0 {
			return "No audit entries.", nil
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}
