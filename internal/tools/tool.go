// Package tools provides the tool sandbox the agent calls into: a registry of
// core and agent-contributed tools, a deny-list, and path/option guards.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/KafClaw/siteagent/internal/config"
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters. Value-level failures
	// are returned as *Error.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only (always allowed)
// Tier 1: writes (proposal-gated in confirm mode)
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0
	TierWrite    = 1
)

// ToolTier returns the risk tier for a tool, defaulting to TierReadOnly.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierReadOnly
}

// IsWrite reports whether t mutates site state.
func IsWrite(t Tool) bool { return ToolTier(t) >= TierWrite }

// RequiresConfirmation is the pure routing decision for a tool call:
// write tools in confirm mode go through a proposal.
func RequiresConfirmation(t Tool, mode string) bool {
	return IsWrite(t) && mode != config.ConfirmModeAuto
}

// Preview describes what a write tool would change.
type Preview struct {
	Description string `json:"description"`
	Target      string `json:"target,omitempty"`
	Diff        string `json:"diff,omitempty"`
}

// Previewer is implemented by write tools that can describe a change
// without applying it.
type Previewer interface {
	Preview(ctx context.Context, params map[string]any) (Preview, error)
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	IsWrite     bool           `json:"is_write"`
	Core        bool           `json:"core"`
}

// HandlerFunc executes an agent-contributed tool.
type HandlerFunc func(ctx context.Context, params map[string]any) (string, error)

// DenyList reports the names of disabled tools.
type DenyList interface {
	Disabled(ctx context.Context) (map[string]bool, error)
}

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	core  map[string]bool
	deny  DenyList
}

// NewRegistry creates a new tool registry. deny may be nil.
func NewRegistry(deny DenyList) *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		core:  make(map[string]bool),
		deny:  deny,
	}
}

// Register adds a core tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.core[tool.Name()] = true
}

// RegisterTool adds an agent-contributed tool. Core names cannot be shadowed.
func (r *Registry) RegisterTool(def Definition, handler HandlerFunc) error {
	if def.Name == "" || handler == nil {
		return fmt.Errorf("register tool: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.core[def.Name] {
		return fmt.Errorf("register tool %s: name is reserved by a core tool", def.Name)
	}
	r.tools[def.Name] = &handlerTool{def: def, handler: handler}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disabled returns the current deny-list.
func (r *Registry) Disabled(ctx context.Context) map[string]bool {
	if r.deny == nil {
		return map[string]bool{}
	}
	set, err := r.deny.Disabled(ctx)
	if err != nil || set == nil {
		return map[string]bool{}
	}
	return set
}

// Definitions lists enabled tools. When allowed is non-empty only those
// names are included.
func (r *Registry) Definitions(ctx context.Context, allowed []string) []Definition {
	disabled := r.Disabled(ctx)
	var only map[string]bool
	if len(allowed) > 0 {
		only = make(map[string]bool, len(allowed))
		for _, n := range allowed {
			only[n] = true
		}
	}
	var defs []Definition
	for _, name := range r.Names() {
		if disabled[name] || (only != nil && !only[name]) {
			continue
		}
		t, _ := r.Get(name)
		r.mu.RLock()
		core := r.core[name]
		r.mu.RUnlock()
		defs = append(defs, Definition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
			IsWrite:     IsWrite(t),
			Core:        core,
		})
	}
	return defs
}

// Lookup returns an enabled tool or a typed error.
func (r *Registry) Lookup(ctx context.Context, name string) (Tool, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, Errorf(KindUnknownTool, "unknown tool: %s", name)
	}
	if r.Disabled(ctx)[name] {
		return nil, Errorf(KindToolDisabled, "tool %s is disabled", name)
	}
	return tool, nil
}

// Execute runs a tool by name. Disabled tools are refused even when called
// directly.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	tool, err := r.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if params == nil {
		params = map[string]any{}
	}
	return tool.Execute(ctx, params)
}

// Preview asks a write tool to describe its change. Tools without Preview
// get a generic description.
func (r *Registry) Preview(ctx context.Context, name string, params map[string]any) (Preview, error) {
	tool, err := r.Lookup(ctx, name)
	if err != nil {
		return Preview{}, err
	}
	if p, ok := tool.(Previewer); ok {
		return p.Preview(ctx, params)
	}
	args, _ := json.Marshal(params)
	return Preview{Description: fmt.Sprintf("Run %s with %s", name, args)}, nil
}

type handlerTool struct {
	def     Definition
	handler HandlerFunc
}

func (h *handlerTool) Name() string               { return h.def.Name }
func (h *handlerTool) Description() string        { return h.def.Description }
func (h *handlerTool) Parameters() map[string]any { return h.def.Parameters }
// Execute runs the handler. Plain handler errors become tool_error values
// so the model sees them instead of the turn aborting.
func (h *handlerTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	out, err := h.handler(ctx, params)
	if err != nil && KindOf(err) == "" {
		return out, Errorf(KindToolError, "%s: %v", h.def.Name, err)
	}
	return out, err
}

func (h *handlerTool) Tier() int {
	if h.def.IsWrite {
		return TierWrite
	}
	return TierReadOnly
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

func requireString(params map[string]any, key string) (string, error) {
	v := GetString(params, key, "")
	if v == "" {
		return "", Errorf(KindInvalidArgument, "%s is required", key)
	}
	return v, nil
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
