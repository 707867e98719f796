package config

import (
	"github.com/spf13/viper"

	"github.com/leefowlercu/atlas-archive/internal/classify"
)

// Default configuration values.
const (
	DefaultLogLevel = "info"
	DefaultLogFile  = "~/.config/atlas/atlas.log"

	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
	DefaultLogCompress   = false

	DefaultWatchMaxBackups            = 10
	DefaultWatchIgnoreCachePaths      = true
	DefaultWatchTriggerOnAutosave     = true
	DefaultWatchTriggerOnRestorePoint = true
	DefaultWatchTriggerOnOther        = true
	DefaultWatchDebounceMs            = 5000
	DefaultWatchCompressionLevel      = -1
	DefaultWatchVerbose               = false

	DefaultMetricsEnabled = false
	DefaultMetricsListen  = "127.0.0.1:9464"
)

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		LogFile:  DefaultLogFile,
		LogRotation: LogRotationConfig{
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		Watch: WatchConfig{
			MaxBackups:            DefaultWatchMaxBackups,
			IgnoreCachePaths:      DefaultWatchIgnoreCachePaths,
			CacheDirNames:         append([]string(nil), classify.DefaultCacheDirNames...),
			TriggerOnAutosave:     DefaultWatchTriggerOnAutosave,
			TriggerOnRestorePoint: DefaultWatchTriggerOnRestorePoint,
			TriggerOnOther:        DefaultWatchTriggerOnOther,
			DebounceMs:            DefaultWatchDebounceMs,
			CompressionLevel:      DefaultWatchCompressionLevel,
			Verbose:               DefaultWatchVerbose,
		},
		Metrics: MetricsConfig{
			Enabled: DefaultMetricsEnabled,
			Listen:  DefaultMetricsListen,
		},
	}
}

// setDefaults registers all default configuration values with the global viper.
// Called during Init() before reading config files.
func setDefaults() {
	setViperDefaults(viper.GetViper())
}

// setViperDefaults registers all default configuration values with a viper instance.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", DefaultLogFile)

	// Log rotation defaults
	v.SetDefault("log_rotation.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log_rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log_rotation.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("log_rotation.compress", DefaultLogCompress)

	// Watch defaults
	v.SetDefault("watch.source", "")
	v.SetDefault("watch.destination", "")
	v.SetDefault("watch.max_backups", DefaultWatchMaxBackups)
	v.SetDefault("watch.ignore_cache_paths", DefaultWatchIgnoreCachePaths)
	v.SetDefault("watch.cache_dir_names", classify.DefaultCacheDirNames)
	v.SetDefault("watch.trigger_on_autosave", DefaultWatchTriggerOnAutosave)
	v.SetDefault("watch.trigger_on_restore_point", DefaultWatchTriggerOnRestorePoint)
	v.SetDefault("watch.trigger_on_other", DefaultWatchTriggerOnOther)
	v.SetDefault("watch.debounce_ms", DefaultWatchDebounceMs)
	v.SetDefault("watch.compression_level", DefaultWatchCompressionLevel)
	v.SetDefault("watch.verbose", DefaultWatchVerbose)

	// Metrics defaults
	v.SetDefault("metrics.enabled", DefaultMetricsEnabled)
	v.SetDefault("metrics.listen", DefaultMetricsListen)
}
