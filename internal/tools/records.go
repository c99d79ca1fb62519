package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

// RecordStore reads and writes site content records.
type RecordStore interface {
	ListRecords(ctx context.Context, f store.RecordFilter) ([]store.Record, error)
	GetRecord(ctx context.Context, id int64) (*store.Record, error)
	CreateRecord(ctx context.Context, r store.Record) (int64, error)
	UpdateRecord(ctx context.Context, id int64, p store.RecordPatch) (bool, error)
}

// Record statuses.
const (
	StatusDraft   = "draft"
	StatusPending = "pending"
	StatusPrivate = "private"
	StatusPublish = "publish"
)

// NormalizeStatus maps a requested status to one a tool may set. Unknown
// statuses and "publish" without allowPublish become draft.
func NormalizeStatus(requested string, allowPublish bool) string {
	switch s := strings.ToLower(strings.TrimSpace(requested)); s {
	case StatusDraft, StatusPending, StatusPrivate:
		return s
	case StatusPublish:
		if allowPublish {
			return s
		}
	}
	return StatusDraft
}

type recordSummary struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// ListRecordsTool lists site content.
type ListRecordsTool struct {
	records RecordStore
}

// NewListRecordsTool creates a list_records tool.
func NewListRecordsTool(records RecordStore) *ListRecordsTool {
	return &ListRecordsTool{records: records}
}

func (t *ListRecordsTool) Name() string { return "list_records" }
func (t *ListRecordsTool) Tier() int    { return TierReadOnly }

func (t *ListRecordsTool) Description() string {
	return "List site content records (posts, pages) with optional type, status and search filters."
}

func (t *ListRecordsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":   map[string]any{"type": "string", "description": "Record type, e.g. post or page"},
			"status": map[string]any{"type": "string", "description": "Status filter"},
			"search": map[string]any{"type": "string", "description": "Substring to match in title or content"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum results (default 20, max 100)"},
		},
	}
}

func (t *ListRecordsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	recs, err := t.records.ListRecords(ctx, store.RecordFilter{
		Type:   GetString(params, "type", ""),
		Status: GetString(params, "status", ""),
		Search: GetString(params, "search", ""),
		Limit:  GetInt(params, "limit", 20),
	})
	if err != nil {
		return "", fmt.Errorf("list records: %w", err)
	}
	out := make([]recordSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordSummary{ID: r.ID, Type: r.Type, Title: r.Title, Status: r.Status})
	}
	return toJSON(out), nil
}

// GetRecordTool reads a single record.
type GetRecordTool struct {
	records RecordStore
}

// NewGetRecordTool creates a get_record tool.
func NewGetRecordTool(records RecordStore) *GetRecordTool { return &GetRecordTool{records: records} }

func (t *GetRecordTool) Name() string { return "get_record" }
func (t *GetRecordTool) Tier() int    { return TierReadOnly }

func (t *GetRecordTool) Description() string {
	return "Read a site content record by id, including its content."
}

func (t *GetRecordTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "integer", "description": "Record id"},
		},
		"required": []string{"id"},
	}
}

func (t *GetRecordTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := GetInt(params, "id", 0)
	if id <= 0 {
		return "", Errorf(KindInvalidArgument, "id is required")
	}
	r, err := t.records.GetRecord(ctx, int64(id))
	if err != nil {
		return "", fmt.Errorf("get record %d: %w", id, err)
	}
	if r == nil {
		return "", Errorf(KindNotFound, "record %d not found", id)
	}
	return toJSON(r), nil
}

// CreateRecordTool creates a record.
type CreateRecordTool struct {
	rt      *config.Runtime
	records RecordStore
}

// NewCreateRecordTool creates a create_record tool.
func NewCreateRecordTool(rt *config.Runtime, records RecordStore) *CreateRecordTool {
	return &CreateRecordTool{rt: rt, records: records}
}

func (t *CreateRecordTool) Name() string { return "create_record" }
func (t *CreateRecordTool) Tier() int    { return TierWrite }

func (t *CreateRecordTool) Description() string {
	return "Create a site content record. New records are saved as drafts unless publishing is enabled."
}

func (t *CreateRecordTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    map[string]any{"type": "string", "description": "Record type (default post)"},
			"title":   map[string]any{"type": "string", "description": "Title"},
			"content": map[string]any{"type": "string", "description": "Body content"},
			"status":  map[string]any{"type": "string", "description": "draft, pending, private or publish"},
		},
		"required": []string{"title"},
	}
}

func (t *CreateRecordTool) build(params map[string]any) (store.Record, error) {
	title, err := requireString(params, "title")
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{
		Type:    GetString(params, "type", "post"),
		Title:   title,
		Content: GetString(params, "content", ""),
		Status:  NormalizeStatus(GetString(params, "status", StatusDraft), t.rt.Current().Agent.AllowPublish),
	}, nil
}

// Preview describes the record that would be created.
func (t *CreateRecordTool) Preview(ctx context.Context, params map[string]any) (Preview, error) {
	r, err := t.build(params)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Target:      "record:new",
		Description: fmt.Sprintf("Create %s %q as %s", r.Type, r.Title, r.Status),
	}, nil
}

func (t *CreateRecordTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	r, err := t.build(params)
	if err != nil {
		return "", err
	}
	id, err := t.records.CreateRecord(ctx, r)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return fmt.Sprintf("Created %s %d with status %s", r.Type, id, r.Status), nil
}

// UpdateRecordTool updates a record.
type UpdateRecordTool struct {
	rt      *config.Runtime
	records RecordStore
	diff    DiffFunc
}

// NewUpdateRecordTool creates an update_record tool. diff may be nil.
func NewUpdateRecordTool(rt *config.Runtime, records RecordStore, diff DiffFunc) *UpdateRecordTool {
	return &UpdateRecordTool{rt: rt, records: records, diff: diff}
}

func (t *UpdateRecordTool) Name() string { return "update_record" }
func (t *UpdateRecordTool) Tier() int    { return TierWrite }

func (t *UpdateRecordTool) Description() string {
	return "Update the title, content or status of a site content record."
}

func (t *UpdateRecordTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "integer", "description": "Record id"},
			"title":   map[string]any{"type": "string", "description": "New title"},
			"content": map[string]any{"type": "string", "description": "New content"},
			"status":  map[string]any{"type": "string", "description": "New status"},
		},
		"required": []string{"id"},
	}
}

func (t *UpdateRecordTool) patch(params map[string]any) (int64, store.RecordPatch, error) {
	id := GetInt(params, "id", 0)
	if id <= 0 {
		return 0, store.RecordPatch{}, Errorf(KindInvalidArgument, "id is required")
	}
	var p store.RecordPatch
	if v, ok := params["title"].(string); ok {
		p.Title = &v
	}
	if v, ok := params["content"].(string); ok {
		p.Content = &v
	}
	if v, ok := params["status"].(string); ok {
		s := NormalizeStatus(v, t.rt.Current().Agent.AllowPublish)
		p.Status = &s
	}
	if p.Title == nil && p.Content == nil && p.Status == nil {
		return 0, p, Errorf(KindInvalidArgument, "nothing to update: pass title, content or status")
	}
	return int64(id), p, nil
}

// Preview diffs the record content against the requested change.
func (t *UpdateRecordTool) Preview(ctx context.Context, params map[string]any) (Preview, error) {
	id, p, err := t.patch(params)
	if err != nil {
		return Preview{}, err
	}
	cur, err := t.records.GetRecord(ctx, id)
	if err != nil {
		return Preview{}, fmt.Errorf("get record %d: %w", id, err)
	}
	if cur == nil {
		return Preview{}, Errorf(KindNotFound, "record %d not found", id)
	}
	var changes []string
	if p.Title != nil {
		changes = append(changes, fmt.Sprintf("title %q -> %q", cur.Title, *p.Title))
	}
	if p.Status != nil {
		changes = append(changes, fmt.Sprintf("status %s -> %s", cur.Status, *p.Status))
	}
	if p.Content != nil {
		changes = append(changes, "content")
	}
	out := Preview{
		Target:      fmt.Sprintf("record:%d", id),
		Description: fmt.Sprintf("Update %s %d: %s", cur.Type, id, strings.Join(changes, ", ")),
	}
	if p.Content != nil && t.diff != nil {
		label := fmt.Sprintf("record/%d", id)
		out.Diff = t.diff(cur.Content, *p.Content, "a/"+label, "b/"+label)
	}
	return out, nil
}

func (t *UpdateRecordTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id, p, err := t.patch(params)
	if err != nil {
		return "", err
	}
	ok, err := t.records.UpdateRecord(ctx, id, p)
	if err != nil {
		return "", fmt.Errorf("update record %d: %w", id, err)
	}
	if !ok {
		return "", Errorf(KindNotFound, "record %d not found", id)
	}
	return fmt.Sprintf("Updated record %d", id), nil
}
