package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestToWatchConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := NewDefaultConfig()
	cfg.Watch.Source = "~/saves"
	cfg.Watch.Destination = "/backups"
	cfg.Watch.DebounceMs = 1500
	cfg.Watch.TriggerOnOther = false

	wc := cfg.ToWatchConfig()

	if wc.SourcePath != filepath.Join(home, "saves") {
		t.Errorf("SourcePath = %q, want expanded home", wc.SourcePath)
	}
	if wc.DestinationPath != "/backups" {
		t.Errorf("DestinationPath = %q", wc.DestinationPath)
	}
	if wc.DebounceWindow != 1500*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 1.5s", wc.DebounceWindow)
	}
	if wc.TriggerOnOther || !wc.TriggerOnAutosave {
		t.Errorf("trigger flags not carried over: %+v", wc)
	}
	if wc.MaxBackups != DefaultWatchMaxBackups {
		t.Errorf("MaxBackups = %d", wc.MaxBackups)
	}
	if err := wc.Validate(); err != nil {
		t.Errorf("converted defaults should validate, got %v", err)
	}

	wc.CacheDirNames[0] = "changed"
	if cfg.Watch.CacheDirNames[0] == "changed" {
		t.Error("ToWatchConfig should copy CacheDirNames")
	}
}
