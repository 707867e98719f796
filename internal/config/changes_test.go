package config

import (
	"slices"
	"testing"
)

func TestWatchChanged(t *testing.T) {
	base := NewDefaultConfig()

	same := NewDefaultConfig()
	if WatchChanged(&base, &same) {
		t.Error("identical configs reported as changed")
	}

	logOnly := NewDefaultConfig()
	logOnly.LogLevel = "debug"
	if WatchChanged(&base, &logOnly) {
		t.Error("log level change should not affect the watch")
	}

	names := NewDefaultConfig()
	names.Watch.CacheDirNames = append(names.Watch.CacheDirNames, "crashdumps")
	if !WatchChanged(&base, &names) {
		t.Error("cache dir names change not detected")
	}

	window := NewDefaultConfig()
	window.Watch.DebounceMs = 100
	if !WatchChanged(&base, &window) {
		t.Error("debounce change not detected")
	}

	if !WatchChanged(nil, &base) {
		t.Error("nil previous config should count as changed")
	}
}

func TestChangedSections(t *testing.T) {
	prev := NewDefaultConfig()
	next := NewDefaultConfig()
	next.LogLevel = "debug"
	next.LogRotation.Compress = true
	next.Metrics.Enabled = true

	got := ChangedSections(&prev, &next)
	want := []string{"log_level", "log_file", "metrics"}
	if !slices.Equal(got, want) {
		t.Errorf("ChangedSections() = %v, want %v", got, want)
	}
}
