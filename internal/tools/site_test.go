package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

func TestOptionTools(t *testing.T) {
	site := newTestSite(t)
	if err := site.SetOption(bg, "blogname", "My Site"); err != nil {
		t.Fatal(err)
	}
	get := NewGetOptionTool(site)
	upd := NewUpdateOptionTool(site)

	out, err := get.Execute(bg, map[string]any{"name": "blogname"})
	if err != nil || out != "My Site" {
		t.Fatalf("get: %q %v", out, err)
	}
	_, err = get.Execute(bg, map[string]any{"name": "smtp_password"})
	wantKind(t, err, KindProtected)
	_, err = get.Execute(bg, map[string]any{"name": "nope"})
	wantKind(t, err, KindNotFound)

	for _, name := range []string{"siteurl", "admin_email", "active_plugins", DisabledToolsOption, "stripe_api_key", "AUTH_TOKEN"} {
		_, err := upd.Execute(bg, map[string]any{"name": name, "value": "x"})
		wantKind(t, err, KindProtected)
	}

	p, err := upd.Preview(bg, map[string]any{"name": "blogname", "value": "New"})
	if err != nil || !strings.Contains(p.Description, `"My Site"`) {
		t.Fatalf("preview: %+v %v", p, err)
	}
	if _, err := upd.Execute(bg, map[string]any{"name": "blogname", "value": "New"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _, _ := site.GetOption(bg, "blogname")
	if v != "New" {
		t.Fatalf("option not updated: %q", v)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		in      string
		publish bool
		want    string
	}{
		{"publish", false, "draft"},
		{"publish", true, "publish"},
		{"Pending", false, "pending"},
		{"private", false, "private"},
		{"future", true, "draft"},
		{"", false, "draft"},
	}
	for _, c := range cases {
		if got := NormalizeStatus(c.in, c.publish); got != c.want {
			t.Errorf("NormalizeStatus(%q, %v) = %q, want %q", c.in, c.publish, got, c.want)
		}
	}
}

func TestRecordTools(t *testing.T) {
	rt := config.NewRuntime(nil)
	site := newTestSite(t)
	create := NewCreateRecordTool(rt, site)
	update := NewUpdateRecordTool(rt, site, func(a, b, la, lb string) string { return la + "|" + lb })

	if _, err := create.Execute(bg, map[string]any{"title": "Hello", "content": "body", "status": "publish"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	recs, err := site.ListRecords(bg, store.RecordFilter{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("list: %v %d", err, len(recs))
	}
	if recs[0].Status != StatusDraft {
		t.Fatalf("publish must be downgraded, got %s", recs[0].Status)
	}
	id := recs[0].ID

	out, err := NewGetRecordTool(site).Execute(bg, map[string]any{"id": float64(id)})
	if err != nil || !strings.Contains(out, `"Hello"`) {
		t.Fatalf("get: %q %v", out, err)
	}
	_, err = NewGetRecordTool(site).Execute(bg, map[string]any{"id": float64(999)})
	wantKind(t, err, KindNotFound)

	p, err := update.Preview(bg, map[string]any{"id": float64(id), "content": "new body"})
	if err != nil || p.Diff == "" {
		t.Fatalf("preview: %+v %v", p, err)
	}
	if _, err := update.Execute(bg, map[string]any{"id": float64(id), "title": "Hi", "status": "publish"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	r, _ := site.GetRecord(bg, id)
	if r.Title != "Hi" || r.Status != StatusDraft || r.Content != "body" {
		t.Fatalf("unexpected record after update: %+v", r)
	}
	_, err = update.Execute(bg, map[string]any{"id": float64(id)})
	wantKind(t, err, KindInvalidArgument)
	_, err = update.Execute(bg, map[string]any{"id": float64(999), "title": "x"})
	wantKind(t, err, KindNotFound)

	out, err = NewListRecordsTool(site).Execute(bg, map[string]any{"search": "Hi"})
	if err != nil || !strings.Contains(out, `"Hi"`) || strings.Contains(out, "body") {
		t.Fatalf("list tool: %q %v", out, err)
	}
}

func TestListUsersStripsPersonalFields(t *testing.T) {
	site := newTestSite(t)
	if _, err := site.CreateUser(bg, store.User{
		Login: "ada", DisplayName: "Ada", Email: "ada@example.com", PasswordHash: "$P$hash", Role: "administrator",
	}); err != nil {
		t.Fatal(err)
	}
	out, err := NewListUsersTool(site).Execute(bg, map[string]any{})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if strings.Contains(out, "ada@example.com") || strings.Contains(out, "$P$hash") {
		t.Fatalf("personal fields leaked: %s", out)
	}
	var users []map[string]any
	if err := json.Unmarshal([]byte(out), &users); err != nil || len(users) != 1 {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"email", "password_hash"} {
		if _, ok := users[0][k]; ok {
			t.Fatalf("field %s must not be present", k)
		}
	}
}
