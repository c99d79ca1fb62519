package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export FOO=bar
QUOTED="hello world"
SINGLE='x y'
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("FOO", "existing")
	t.Setenv("QUOTED", "")
	t.Setenv("SINGLE", "")
	_ = os.Unsetenv("QUOTED")
	_ = os.Unsetenv("SINGLE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	if got := os.Getenv("FOO"); got != "existing" {
		t.Fatalf("expected existing FOO preserved, got %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("expected QUOTED loaded, got %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "x y" {
		t.Fatalf("expected SINGLE loaded, got %q", got)
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "siteagent.env")
	if err := os.WriteFile(envPath, []byte("SITEAGENT_TEST_EXPLICIT=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("HOME", tmp)
	t.Setenv("SITEAGENT_ENV_FILE", envPath)
	t.Setenv("SITEAGENT_TEST_EXPLICIT", "")
	_ = os.Unsetenv("SITEAGENT_TEST_EXPLICIT")

	LoadEnvFileCandidates()

	if got := os.Getenv("SITEAGENT_TEST_EXPLICIT"); got != "42" {
		t.Fatalf("expected explicit env file to load, got %q", got)
	}
}

func TestTrimOptionalQuotes(t *testing.T) {
	cases := map[string]string{
		`"a"`: "a",
		`'b'`: "b",
		`"c'`: `"c'`,
		`x`:   "x",
		`""`:  "",
		`"`:   `"`,
	}
	for in, want := range cases {
		if got := trimOptionalQuotes(in); got != want {
			t.Errorf("trimOptionalQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}
