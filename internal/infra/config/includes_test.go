package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "store.yaml", `
store:
  driver: badger
  path: /srv/pmp
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "store.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "badger" || cfg.Store.Path != "/srv/pmp" {
		t.Errorf("store not loaded from include: %+v", cfg.Store)
	}
}

func TestIncludesGlobPattern(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, subdir, "apps.yaml", `
apps:
  dirs: ["/opt/apps"]
`)
	writeConfigFile(t, subdir, "metrics.yaml", `
metrics:
  addr: "127.0.0.1:9999"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Apps.Dirs) != 1 || cfg.Apps.Dirs[0] != "/opt/apps" {
		t.Errorf("Apps.Dirs = %v", cfg.Apps.Dirs)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9999" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestIncludesGlobWithoutMatches(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "conf.d/*.yaml"
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestIncludesMainPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
logger:
  level: debug
  format: json
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "base.yaml"
logger:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q, want the main file's %q", cfg.Logger.Level, "warn")
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want the include's %q", cfg.Logger.Format, "json")
	}
}

func TestIncludesCircularDetection(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - \"b.yaml\"\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - \"a.yaml\"\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"a.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("Load error = %v, want circular include", err)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "etc")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, dir, "outside.yaml", "logger:\n  level: debug\n")
	path := writeConfigFile(t, sub, "config.yaml", "includes:\n  - \"../outside.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes config directory") {
		t.Fatalf("Load error = %v, want traversal error", err)
	}
}

func TestIncludesFilePermissions(t *testing.T) {
	dir := t.TempDir()
	inc := writeConfigFile(t, dir, "open.yaml", "logger:\n  level: debug\n")
	if err := os.Chmod(inc, 0o666); err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"open.yaml\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for world-writable include")
	}
}

func TestIncludesFileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"missing.yaml\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing literal include")
	}
}

func TestIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "leaf.yaml", "store:\n  driver: badger\n")
	writeConfigFile(t, dir, "mid.yaml", "includes:\n  - \"leaf.yaml\"\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"mid.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "badger" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "badger")
	}
}

func TestIncludesMaxDepth(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i <= maxIncludeDepth+1; i++ {
		writeConfigFile(t, dir, fmt.Sprintf("l%d.yaml", i), fmt.Sprintf("includes:\n  - \"l%d.yaml\"\n", i+1))
	}
	writeConfigFile(t, dir, fmt.Sprintf("l%d.yaml", maxIncludeDepth+2), "logger:\n  level: debug\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"l0.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("Load error = %v, want max depth", err)
	}
}

func TestIncludesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "empty.yaml", "")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"empty.yaml\"\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
