// Package metrics provides Prometheus metrics for the backup watcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "atlas"
)

// Backup metrics track archive creation.
var (
	// BackupsTotal is the total number of backup attempts by tag and result.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_total",
		Help:      "Total number of backup attempts",
	}, []string{"tag", "result"})

	// BackupDuration is a histogram of archive creation time in seconds.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_duration_seconds",
		Help:      "Duration of archive creation in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"tag"})

	// LastArchiveBytes is the compressed size of the most recent archive.
	LastArchiveBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_archive_bytes",
		Help:      "Compressed size of the most recent archive in bytes",
	})

	// LastBackupTime is the unix timestamp of the most recent successful backup.
	LastBackupTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_backup_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful backup",
	})

	// SkippedFilesTotal is the total number of source files skipped while archiving.
	SkippedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_files_total",
		Help:      "Total number of unreadable source files skipped while archiving",
	})
)

// Retention metrics track pruning of old archives.
var (
	// PrunedTotal is the total number of archives deleted by retention.
	PrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pruned_archives_total",
		Help:      "Total number of archives deleted by the retention policy",
	})

	// PruneFailuresTotal is the total number of archives that could not be deleted.
	PruneFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prune_failures_total",
		Help:      "Total number of archive deletions that failed",
	})

	// RetainedArchives is the number of archives kept after the last retention pass.
	RetainedArchives = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retained_archives",
		Help:      "Number of archives present after the last retention pass",
	})
)

// Watcher metrics track filesystem monitoring.
var (
	// WatcherEventsTotal is the total number of filesystem events by operation.
	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_events_total",
		Help:      "Total number of filesystem events received",
	}, []string{"op"})

	// WatcherPathsTotal is the number of directories being watched.
	WatcherPathsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watcher_paths_total",
		Help:      "Number of directories being watched",
	})

	// ChangesTotal is the total number of classified changes by category.
	ChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changes_total",
		Help:      "Total number of classified changes",
	}, []string{"category", "forwarded"})

	// DebounceTriggersTotal is the total number of debounced backup triggers by tag.
	DebounceTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounce_triggers_total",
		Help:      "Total number of backup triggers emitted after a quiet period",
	}, []string{"tag"})
)

// Session and event bus metrics.
var (
	// SessionsActive is 1 while a watch session is running.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of running watch sessions",
	})

	// SessionFailuresTotal is the total number of sessions ended by a watch failure.
	SessionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_failures_total",
		Help:      "Total number of watch sessions ended by a failure",
	})

	// EventBusDroppedEvents is the total number of events dropped due to full buffers.
	EventBusDroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_bus_dropped_events_total",
		Help:      "Total number of events dropped because a subscriber buffer was full",
	}, []string{"event_type"})
)

// RecordBackup records one archive creation attempt.
func RecordBackup(tag string, duration time.Duration, size int64, skipped int, err error) {
	if err != nil {
		BackupsTotal.WithLabelValues(tag, "failure").Inc()
		return
	}
	BackupsTotal.WithLabelValues(tag, "success").Inc()
	BackupDuration.WithLabelValues(tag).Observe(duration.Seconds())
	LastArchiveBytes.Set(float64(size))
	LastBackupTime.Set(float64(time.Now().Unix()))
	if skipped > 0 {
		SkippedFilesTotal.Add(float64(skipped))
	}
}

// RecordRetention records the outcome of one retention pass.
func RecordRetention(deleted, failed, kept int) {
	PrunedTotal.Add(float64(deleted))
	PruneFailuresTotal.Add(float64(failed))
	RetainedArchives.Set(float64(kept))
}

// RecordChange records a classified change.
func RecordChange(category string, forwarded bool) {
	fwd := "false"
	if forwarded {
		fwd = "true"
	}
	ChangesTotal.WithLabelValues(category, fwd).Inc()
}

// RecordWatcherEvent records a filesystem event.
func RecordWatcherEvent(op string) {
	WatcherEventsTotal.WithLabelValues(op).Inc()
}
