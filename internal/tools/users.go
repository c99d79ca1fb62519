package tools

import (
	"context"
	"fmt"

	"github.com/KafClaw/siteagent/internal/store"
)

// UserStore lists site accounts.
type UserStore interface {
	ListUsers(ctx context.Context, role string, limit int) ([]store.User, error)
}

// userView is the only user shape tools return. Contact and credential
// fields are not part of it.
type userView struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// ListUsersTool lists site accounts without personal fields.
type ListUsersTool struct {
	users UserStore
}

// NewListUsersTool creates a list_users tool.
func NewListUsersTool(users UserStore) *ListUsersTool { return &ListUsersTool{users: users} }

func (t *ListUsersTool) Name() string { return "list_users" }
func (t *ListUsersTool) Tier() int    { return TierReadOnly }

func (t *ListUsersTool) Description() string {
	return "List site users with their login, display name and role."
}

func (t *ListUsersTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role":  map[string]any{"type": "string", "description": "Only users with this role"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 20)"},
		},
	}
}

func (t *ListUsersTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	users, err := t.users.ListUsers(ctx, GetString(params, "role", ""), GetInt(params, "limit", 20))
	if err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName, Role: u.Role})
	}
	return toJSON(out), nil
}
