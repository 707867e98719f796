package subcommands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/servicemanager"
)

// StartCmd starts the installed service.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	Example: `  # Start watching in the background
  atlas service start`,
	PreRunE: validateControl,
	RunE: control("Service started", func(ctx context.Context, mgr servicemanager.Manager) error {
		return mgr.Start(ctx)
	}),
}

// StopCmd stops the running service. An in-flight backup completes first.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service",
	Long: "Stop the service.\n\n" +
		"A backup that is being written when the stop arrives is completed first.",
	Example: `  # Stop watching
  atlas service stop`,
	PreRunE: validateControl,
	RunE: control("Service stopped", func(ctx context.Context, mgr servicemanager.Manager) error {
		return mgr.Stop(ctx)
	}),
}

// ReloadCmd asks the running service to re-read its configuration.
var ReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Apply configuration changes to the running service",
	Long: "Apply configuration changes to the running service.\n\n" +
		"Sends SIGHUP to the running watch. A changed watch section restarts the " +
		"session; a changed log level applies immediately. An invalid file is " +
		"ignored and the previous configuration stays in effect.",
	Example: `  # After editing ~/.config/atlas/config.yaml
  atlas service reload`,
	PreRunE: validateControl,
	RunE: control("Reload requested", func(ctx context.Context, mgr servicemanager.Manager) error {
		return mgr.Reload(ctx)
	}),
}

func validateControl(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

// control runs action against an installed service and prints done.
func control(done string, action func(context.Context, servicemanager.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		mgr, err := installedManager(cmd.Context())
		if err != nil {
			return err
		}
		if err := action(cmd.Context(), mgr); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), done)
		return nil
	}
}
