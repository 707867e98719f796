package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override, e.g. ATLAS_WATCH_SOURCE.
const EnvPrefix = "ATLAS"

// EnvConfigDir names the environment variable that overrides the config directory.
const EnvConfigDir = "ATLAS_CONFIG_DIR"

var (
	// configFilePath stores the path to the loaded config file
	configFilePath string

	// explicitPath is set by SetConfigFile
	explicitPath string
)

// Init initializes the configuration subsystem.
// It searches for configuration files in priority order:
//  1. Directory specified by ATLAS_CONFIG_DIR environment variable
//  2. ~/.config/atlas/
//  3. Current working directory (.)
//
// If no config file is found, sensible defaults are used.
// If a config file exists but is invalid or unreadable, Init returns an error.
func Init() error {
	configureViper(viper.GetViper())
	setDefaults()

	// An explicit --config file wins over the search path
	if explicitPath != "" {
		viper.SetConfigFile(expandHome(explicitPath))
		viper.SetConfigType(configTypeFor(explicitPath))
	}

	err := viper.ReadInConfig()
	if err != nil {
		// A missing config file is acceptable; defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			configFilePath = ""
			return nil
		}

		// Any other error (invalid YAML, permission denied) is fatal
		return fmt.Errorf("failed to read config; %w", err)
	}

	configFilePath = viper.ConfigFileUsed()
	slog.Debug("config initialized", "file", configFilePath)

	return nil
}

// SetConfigFile makes Init read path instead of searching for config.yaml.
// An empty path restores the search.
func SetConfigFile(path string) {
	explicitPath = path
}

// configureViper applies the name, search paths and env binding shared by
// the global instance and Load.
func configureViper(v *viper.Viper) {
	v.SetConfigName("config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if envPath := os.Getenv(EnvConfigDir); envPath != "" {
		v.AddConfigPath(envPath)
	}
	if home := os.Getenv("HOME"); home != "" {
		v.AddConfigPath(filepath.Join(home, ".config", "atlas"))
	}
	v.AddConfigPath(".")
}

// ConfigFilePath returns the path to the loaded config file,
// or empty string if using defaults only.
func ConfigFilePath() string {
	return configFilePath
}

// TargetPath returns the file the config commands act on: the --config file,
// else the file Init loaded, else the default location.
func TargetPath() string {
	if explicitPath != "" {
		return expandHome(explicitPath)
	}
	if configFilePath != "" {
		return configFilePath
	}
	return DefaultConfigPath()
}

// Reset clears the configuration state for testing purposes.
func Reset() {
	viper.Reset()
	configFilePath = ""
	explicitPath = ""
}

// GetString returns the string value for the given key.
// Returns empty string if key is not found.
func GetString(key string) string {
	return viper.GetString(key)
}

// Set sets a value for the given key, overriding defaults and config file values.
// Primarily used for testing.
func Set(key string, value any) {
	viper.Set(key, value)
}

// GetPath returns the string value for the given key with ~ expanded to $HOME.
// Returns empty string if key is not found.
func GetPath(key string) string {
	return expandHome(viper.GetString(key))
}

// ExpandPath expands a leading ~ in path to the user's home directory.
func ExpandPath(path string) string {
	return expandHome(path)
}

// expandHome expands a leading ~ in path to the user's home directory.
// Only expands "~" alone or "~/..." patterns. Patterns like "~user" are not expanded.
// Returns the path unchanged if it doesn't start with ~/ or if home dir cannot be determined.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	// Only expand "~" or "~/..."
	if len(path) > 1 && path[1] != '/' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}

	return filepath.Join(home, path[2:])
}

// GetConfigPath returns the path where the config file should be located.
// If a config file is loaded, returns its path. Otherwise returns the default path.
func GetConfigPath() string {
	if configFilePath != "" {
		return configFilePath
	}
	return DefaultConfigPath()
}

// GetAllSettings returns all configuration settings as a map.
func GetAllSettings() map[string]any {
	return viper.AllSettings()
}

// Current returns the typed configuration held by the global viper instance.
func Current() (*Config, error) {
	return unmarshalConfig(viper.GetViper())
}

// Reload re-reads the configuration from disk.
// On failure, the previous configuration is retained.
func Reload() error {
	// Store current settings in case reload fails
	currentSettings := viper.AllSettings()

	err := viper.ReadInConfig()
	if err == nil {
		_, err = Current()
	}
	if err != nil {
		// Restore previous settings on failure
		for key, value := range currentSettings {
			viper.Set(key, value)
		}
		slog.Error("config reload failed; retaining previous values", "error", err)
		return fmt.Errorf("failed to reload config; %w", err)
	}

	slog.Info("config reloaded", "file", viper.ConfigFileUsed())
	return nil
}
