package credentials

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func TestResolvePrefersConfiguredKey(t *testing.T) {
	keyring.MockInit()
	if err := SaveAPIKey("openai", "from-keyring"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Resolve("openai", "  from-config ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "from-config" {
		t.Fatalf("expected configured key, got %q", got)
	}
}

func TestResolveFallsBackToKeyring(t *testing.T) {
	keyring.MockInit()
	if err := SaveAPIKey("Anthropic", "sk-ant-123"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Resolve("anthropic", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "sk-ant-123" {
		t.Fatalf("expected keyring key, got %q", got)
	}
}

func TestResolveMissingIsEmpty(t *testing.T) {
	keyring.MockInit()
	got, err := Resolve("gemini", "")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
}

func TestSaveRejectsEmptyAndDeleteIsIdempotent(t *testing.T) {
	keyring.MockInit()
	if err := SaveAPIKey("xai", "   "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := SaveAPIKey("xai", "xai-key"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := DeleteAPIKey("xai"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteAPIKey("xai"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if got, _ := LoadAPIKey("xai"); got != "" {
		t.Fatalf("expected deleted key, got %q", got)
	}
}
