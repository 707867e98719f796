package config

import "slices"

// WatchChanged reports whether two configs differ in any setting that a
// running watch session was built from. Logging and metrics changes do not
// count.
func WatchChanged(prev, next *Config) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	a, b := prev.Watch, next.Watch
	if !slices.Equal(a.CacheDirNames, b.CacheDirNames) {
		return true
	}
	a.CacheDirNames, b.CacheDirNames = nil, nil
	return a != b
}

// ChangedSections lists the top-level sections that differ between prev and
// next, in declaration order.
func ChangedSections(prev, next *Config) []string {
	var sections []string
	if prev.LogLevel != next.LogLevel {
		sections = append(sections, "log_level")
	}
	if prev.LogFile != next.LogFile || prev.LogRotation != next.LogRotation {
		sections = append(sections, "log_file")
	}
	if WatchChanged(prev, next) {
		sections = append(sections, "watch")
	}
	if prev.Metrics != next.Metrics {
		sections = append(sections, "metrics")
	}
	return sections
}
