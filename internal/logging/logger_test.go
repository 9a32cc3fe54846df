package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ".curator")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestInitializeWithoutConfigIsSilent(t *testing.T) {
	dir := t.TempDir()
	defer CloseAll()

	if err := Initialize(dir); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if IsDebugMode() {
		t.Fatalf("expected production mode without config")
	}
	// No logs directory should be created in production mode.
	if _, err := os.Stat(filepath.Join(dir, ".curator", "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs dir should not exist in production mode")
	}
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	dir := t.TempDir()
	defer CloseAll()

	writeConfig(t, dir, `{"logging":{"debug_mode":true,"level":"debug"}}`)
	if err := Initialize(dir); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	Scheduler("worker %d started", 1)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, ".curator", "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), "scheduler") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a scheduler log file, got %v", entries)
	}
}

func TestCategoryDisable(t *testing.T) {
	dir := t.TempDir()
	defer CloseAll()

	writeConfig(t, dir, `{"logging":{"debug_mode":true,"categories":{"cache":false}}}`)
	if err := Initialize(dir); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if IsCategoryEnabled(CategoryCache) {
		t.Fatalf("cache category should be disabled")
	}
	if !IsCategoryEnabled(CategoryScheduler) {
		t.Fatalf("unlisted categories should default to enabled")
	}
}
