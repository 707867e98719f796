// Package config provides the config parent command and subcommands.
package config

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/cmd/config/subcommands"
)

// ConfigCmd is the parent command for all config-related subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage atlas configuration",
	Long: "Manage atlas configuration.\n\n" +
		"The config command creates, shows and validates the atlas configuration. " +
		"Configuration is read from config.yaml or config.toml in ~/.config/atlas " +
		"(or $ATLAS_CONFIG_DIR), and every key can be overridden with an ATLAS_ " +
		"environment variable, e.g. ATLAS_WATCH_MAX_BACKUPS.",
}

func init() {
	ConfigCmd.AddCommand(subcommands.InitCmd)
	ConfigCmd.AddCommand(subcommands.ShowCmd)
	ConfigCmd.AddCommand(subcommands.ValidateCmd)
}
