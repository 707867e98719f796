// Package service provides the service parent command and subcommands.
package service

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/cmd/service/subcommands"
)

// ServiceCmd is the parent command for running atlas watch as a user service.
var ServiceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run atlas watch as a background service",
	Long: "Run atlas watch as a background service.\n\n" +
		"Installs 'atlas watch' as a systemd user unit on Linux or a launchd agent " +
		"on macOS, so saves are backed up whenever you are logged in. The service " +
		"reads the same configuration file as the command line; use 'atlas service " +
		"reload' after editing it.",
}

func init() {
	ServiceCmd.AddCommand(subcommands.InstallCmd)
	ServiceCmd.AddCommand(subcommands.UninstallCmd)
	ServiceCmd.AddCommand(subcommands.StartCmd)
	ServiceCmd.AddCommand(subcommands.StopCmd)
	ServiceCmd.AddCommand(subcommands.ReloadCmd)
	ServiceCmd.AddCommand(subcommands.StatusCmd)
}
