package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kairoi.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTOML(t, `
env = "local"

[controller]
listen = ":7670"

[database]
journal_path = "kairoi.journal"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Framerate != 512 {
		t.Fatalf("expected default framerate 512, got %d", cfg.Database.Framerate)
	}
	if !cfg.Database.FsyncOnPersist {
		t.Fatal("expected default fsync_on_persist true")
	}
	if !cfg.Runner.ShellEnabled {
		t.Fatal("expected default shell_enabled true")
	}
}

func TestLoad_RejectsInvalidFramerate(t *testing.T) {
	path := writeTOML(t, `
env = "local"

[controller]
listen = ":7670"

[database]
journal_path = "kairoi.journal"
framerate = 0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for framerate 0")
	}
}

func TestLoad_EnvOverlayOverridesResendKey(t *testing.T) {
	path := writeTOML(t, `
env = "local"

[controller]
listen = ":7670"

[database]
journal_path = "kairoi.journal"

[notify]
enabled = false
resend_api_key = "from-file"
`)

	t.Setenv("KAIROI_NOTIFY_RESEND_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.ResendAPIKey != "from-env" {
		t.Fatalf("expected env overlay to win, got %q", cfg.Notify.ResendAPIKey)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
