package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")
	content := `
# comment
export FOO=bar
QUOTED="hello ${ENV_TEST_NAME}"
SINGLE='x ${ENV_TEST_NAME}'
TRAILING=value # note
INVALID_LINE
BAD KEY=1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FOO", "existing")
	t.Setenv("ENV_TEST_NAME", "josh")
	for _, k := range []string{"QUOTED", "SINGLE", "TRAILING"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	n, err := loadEnvFile(path)
	if err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 vars set, got %d", n)
	}
	want := map[string]string{
		"FOO":      "existing",
		"QUOTED":   "hello josh",
		"SINGLE":   "x ${ENV_TEST_NAME}",
		"TRAILING": "value",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadEnvFilesExplicitWinsOverHome(t *testing.T) {
	home := isolate(t)
	explicit := filepath.Join(t.TempDir(), "joshbot.env")
	os.WriteFile(explicit, []byte("EXPLICIT_KEY=42\n"), 0o600)
	os.MkdirAll(filepath.Join(home, ".joshbot"), 0o755)
	os.WriteFile(filepath.Join(home, ".joshbot", ".env"), []byte("EXPLICIT_KEY=7\nHOME_ONLY=yes\n"), 0o600)

	t.Setenv("JOSHBOT_ENV_FILE", explicit)
	t.Setenv("EXPLICIT_KEY", "")
	os.Unsetenv("EXPLICIT_KEY")
	t.Setenv("HOME_ONLY", "")
	os.Unsetenv("HOME_ONLY")

	loaded := LoadEnvFiles()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 files loaded, got %v", loaded)
	}
	if got := os.Getenv("EXPLICIT_KEY"); got != "42" {
		t.Errorf("EXPLICIT_KEY = %q, want 42", got)
	}
	if got := os.Getenv("HOME_ONLY"); got != "yes" {
		t.Errorf("HOME_ONLY = %q, want yes", got)
	}
}
