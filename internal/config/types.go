package config

// Config is the root configuration structure for the application.
type Config struct {
	LogLevel    string            `yaml:"log_level" toml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFile     string            `yaml:"log_file" toml:"log_file" mapstructure:"log_file"`
	LogRotation LogRotationConfig `yaml:"log_rotation" toml:"log_rotation" mapstructure:"log_rotation"`
	Watch       WatchConfig       `yaml:"watch" toml:"watch" mapstructure:"watch"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics" mapstructure:"metrics"`
}

// LogRotationConfig controls rotation of the log file.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" toml:"max_size_mb" mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int  `yaml:"max_backups" toml:"max_backups" mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int  `yaml:"max_age_days" toml:"max_age_days" mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool `yaml:"compress" toml:"compress" mapstructure:"compress"`
}

// WatchConfig holds the backup session settings. Source and destination may
// be left empty here and supplied on the command line.
type WatchConfig struct {
	Source                string   `yaml:"source" toml:"source" mapstructure:"source"`
	Destination           string   `yaml:"destination" toml:"destination" mapstructure:"destination"`
	MaxBackups            int      `yaml:"max_backups" toml:"max_backups" mapstructure:"max_backups" validate:"min=1"`
	IgnoreCachePaths      bool     `yaml:"ignore_cache_paths" toml:"ignore_cache_paths" mapstructure:"ignore_cache_paths"`
	CacheDirNames         []string `yaml:"cache_dir_names,flow" toml:"cache_dir_names" mapstructure:"cache_dir_names" validate:"dive,required,excludesall=/"`
	TriggerOnAutosave     bool     `yaml:"trigger_on_autosave" toml:"trigger_on_autosave" mapstructure:"trigger_on_autosave"`
	TriggerOnRestorePoint bool     `yaml:"trigger_on_restore_point" toml:"trigger_on_restore_point" mapstructure:"trigger_on_restore_point"`
	TriggerOnOther        bool     `yaml:"trigger_on_other" toml:"trigger_on_other" mapstructure:"trigger_on_other"`
	DebounceMs            int      `yaml:"debounce_ms" toml:"debounce_ms" mapstructure:"debounce_ms" validate:"min=1"`
	CompressionLevel      int      `yaml:"compression_level" toml:"compression_level" mapstructure:"compression_level" validate:"min=-2,max=9"`
	Verbose               bool     `yaml:"verbose" toml:"verbose" mapstructure:"verbose"`
}

// MetricsConfig holds the Prometheus listener configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" toml:"listen" mapstructure:"listen"`
}
