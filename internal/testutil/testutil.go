// Package testutil provides isolated config and save-folder fixtures for
// command tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/leefowlercu/atlas-archive/internal/config"
)

// TestEnv is an isolated config directory plus a source and destination
// pair for backups.
type TestEnv struct {
	t           *testing.T
	ConfigDir   string
	Source      string
	Destination string
}

// NewTestEnv points ATLAS_* at temp directories and reinitializes config.
// Cleanup is automatic via t.Cleanup.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	root := t.TempDir()
	env := &TestEnv{
		t:           t,
		ConfigDir:   filepath.Join(root, "config"),
		Source:      filepath.Join(root, "saves"),
		Destination: filepath.Join(root, "backups"),
	}
	for _, dir := range []string{env.ConfigDir, env.Source} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	// These override viper settings via AutomaticEnv()
	t.Setenv("HOME", root)
	t.Setenv(config.EnvConfigDir, env.ConfigDir)
	t.Setenv("ATLAS_LOG_FILE", filepath.Join(env.ConfigDir, "atlas.log"))
	t.Setenv("ATLAS_WATCH_SOURCE", env.Source)
	t.Setenv("ATLAS_WATCH_DESTINATION", env.Destination)

	config.Reset()
	if err := config.Init(); err != nil {
		t.Fatalf("failed to initialize test config: %v", err)
	}
	t.Cleanup(config.Reset)

	return env
}

// WriteSave creates a file under Source, making parent directories.
func (e *TestEnv) WriteSave(rel, content string) string {
	e.t.Helper()

	path := filepath.Join(e.Source, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.t.Fatalf("failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// WriteConfig writes content as config.yaml in the config directory and
// reloads the global config.
func (e *TestEnv) WriteConfig(content string) string {
	e.t.Helper()

	path := filepath.Join(e.ConfigDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatalf("failed to write config: %v", err)
	}
	config.Reset()
	if err := config.Init(); err != nil {
		e.t.Fatalf("failed to initialize test config: %v", err)
	}
	return path
}

// Archives returns the sorted names of the .zip files in Destination.
func (e *TestEnv) Archives() []string {
	e.t.Helper()

	entries, err := os.ReadDir(e.Destination)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		e.t.Fatalf("failed to read destination: %v", err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".zip") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}
