package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// UninstallCmd removes the watch service.
var UninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the service",
	Long: "Stop and remove the service.\n\n" +
		"Stops the running watch, disables auto-start and deletes the service file. " +
		"Existing archives and the configuration file are left in place.",
	Example: `  # Remove the service
  atlas service uninstall`,
	PreRunE: validateUninstall,
	RunE:    runUninstall,
}

func validateUninstall(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	mgr, err := manager()
	if err != nil {
		return err
	}

	if err := mgr.Uninstall(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Service uninstalled")
	return nil
}
