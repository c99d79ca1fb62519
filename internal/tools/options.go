package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/KafClaw/siteagent/internal/config"
)

// OptionStore reads and writes site options.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
}

// DisabledToolsOption is the persisted deny-list option.
const DisabledToolsOption = "agent_disabled_tools"

var sensitiveOptionPatterns = []string{
	"password", "passwd", "secret", "api_key", "apikey", "token",
	"auth_key", "salt", "private_key", "credential",
}

var protectedOptions = map[string]bool{
	"siteurl":           true,
	"home":              true,
	"admin_email":       true,
	"active_plugins":    true,
	"default_role":      true,
	DisabledToolsOption: true,
}

// IsSensitiveOption reports whether an option name looks like a secret.
func IsSensitiveOption(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitiveOptionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsProtectedOption reports whether an option is structurally protected
// from agent updates.
func IsProtectedOption(name string) bool {
	return protectedOptions[strings.ToLower(strings.TrimSpace(name))]
}

// GetOptionTool reads a site option.
type GetOptionTool struct {
	options OptionStore
}

// NewGetOptionTool creates a get_option tool.
func NewGetOptionTool(options OptionStore) *GetOptionTool { return &GetOptionTool{options: options} }

func (t *GetOptionTool) Name() string { return "get_option" }
func (t *GetOptionTool) Tier() int    { return TierReadOnly }

func (t *GetOptionTool) Description() string {
	return "Read a site configuration option by name."
}

func (t *GetOptionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Option name, e.g. blogname"},
		},
		"required": []string{"name"},
	}
}

func (t *GetOptionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return "", err
	}
	if IsSensitiveOption(name) {
		return "", Errorf(KindProtected, "option %s is sensitive and cannot be read", name)
	}
	value, ok, err := t.options.GetOption(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get option %s: %w", name, err)
	}
	if !ok {
		return "", Errorf(KindNotFound, "option %s does not exist", name)
	}
	return value, nil
}

// UpdateOptionTool writes a site option.
type UpdateOptionTool struct {
	options OptionStore
}

// NewUpdateOptionTool creates an update_option tool.
func NewUpdateOptionTool(options OptionStore) *UpdateOptionTool {
	return &UpdateOptionTool{options: options}
}

func (t *UpdateOptionTool) Name() string { return "update_option" }
func (t *UpdateOptionTool) Tier() int    { return TierWrite }

func (t *UpdateOptionTool) Description() string {
	return "Change a site configuration option. Security-related and structural options cannot be changed."
}

func (t *UpdateOptionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "description": "Option name"},
			"value": map[string]any{"type": "string", "description": "New value"},
		},
		"required": []string{"name", "value"},
	}
}

func (t *UpdateOptionTool) check(params map[string]any) (string, string, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return "", "", err
	}
	value, ok := params["value"].(string)
	if !ok {
		return "", "", Errorf(KindInvalidArgument, "value is required")
	}
	if IsSensitiveOption(name) || IsProtectedOption(name) {
		return "", "", Errorf(KindProtected, "option %s is protected", name)
	}
	return name, value, nil
}

// Preview describes the option change.
func (t *UpdateOptionTool) Preview(ctx context.Context, params map[string]any) (Preview, error) {
	name, value, err := t.check(params)
	if err != nil {
		return Preview{}, err
	}
	old, _, err := t.options.GetOption(ctx, name)
	if err != nil {
		return Preview{}, fmt.Errorf("get option %s: %w", name, err)
	}
	return Preview{
		Target:      "option:" + name,
		Description: fmt.Sprintf("Change option %s from %q to %q", name, old, value),
	}, nil
}

func (t *UpdateOptionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name, value, err := t.check(params)
	if err != nil {
		return "", err
	}
	if err := t.options.SetOption(ctx, name, value); err != nil {
		return "", fmt.Errorf("set option %s: %w", name, err)
	}
	return fmt.Sprintf("Option %s updated", name), nil
}

// OptionDenyList merges the configured disabled tools with the persisted
// deny-list option.
type OptionDenyList struct {
	rt      *config.Runtime
	options OptionStore
}

// NewOptionDenyList creates a deny-list backed by site options.
func NewOptionDenyList(rt *config.Runtime, options OptionStore) *OptionDenyList {
	return &OptionDenyList{rt: rt, options: options}
}

// Disabled returns the set of disabled tool names.
func (d *OptionDenyList) Disabled(ctx context.Context) (map[string]bool, error) {
	set := map[string]bool{}
	if d.rt != nil {
		for _, n := range d.rt.Current().Agent.DisabledTools {
			if n = strings.TrimSpace(n); n != "" {
				set[n] = true
			}
		}
	}
	persisted, err := d.persisted(ctx)
	if err != nil {
		return set, err
	}
	for _, n := range persisted {
		set[n] = true
	}
	return set, nil
}

func (d *OptionDenyList) persisted(ctx context.Context) ([]string, error) {
	if d.options == nil {
		return nil, nil
	}
	raw, ok, err := d.options.GetOption(ctx, DisabledToolsOption)
	if err != nil {
		return nil, fmt.Errorf("read disabled tools: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return parseNameList(raw), nil
}

// SetDisabled adds or removes a tool from the persisted deny-list.
func (d *OptionDenyList) SetDisabled(ctx context.Context, name string, disabled bool) error {
	current, err := d.persisted(ctx)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	for _, n := range current {
		set[n] = true
	}
	if disabled {
		set[name] = true
	} else {
		delete(set, name)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	data, _ := json.Marshal(names)
	if err := d.options.SetOption(ctx, DisabledToolsOption, string(data)); err != nil {
		return fmt.Errorf("save disabled tools: %w", err)
	}
	return nil
}

// parseNameList accepts a JSON array or a comma-separated list.
func parseNameList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var names []string
	if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &names) == nil {
		return names
	}
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
