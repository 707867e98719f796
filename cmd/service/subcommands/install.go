package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/config"
	"github.com/leefowlercu/atlas-archive/internal/servicemanager"
)

var (
	installStart bool
)

// InstallCmd installs the watch service.
var InstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install atlas watch as a user service",
	Long: "Install atlas watch as a user service.\n\n" +
		"Writes a systemd user unit (Linux) or launchd agent (macOS) that runs " +
		"'atlas watch' with the current configuration file, and enables it at login. " +
		"The configuration must name both the save folder and the backup folder, " +
		"since the service has no command line flags.",
	Example: `  # Install and start the service
  atlas service install --start`,
	PreRunE: validateInstall,
	RunE:    runInstall,
}

func init() {
	InstallCmd.Flags().BoolVar(&installStart, "start", false, "Start the service after installing")
}

func validateInstall(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	path := config.TargetPath()
	if !config.ConfigExistsAt(path) {
		return fmt.Errorf("no configuration file at %s; run 'atlas config init' first", path)
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if _, err := cmdutil.ResolveWatchConfig(cfg); err != nil {
		return fmt.Errorf("the service needs watch.source and watch.destination in %s; %w", path, err)
	}

	mgr, err := manager()
	if err != nil {
		return err
	}

	spec := servicemanager.Spec{
		BinaryPath: servicemanager.BinaryPath(),
		ConfigPath: path,
	}
	if err := mgr.Install(ctx, spec); err != nil {
		return err
	}

	servicePath, _ := mgr.ServicePath()
	fmt.Fprintf(out, "Installed service: %s\n", servicePath)

	if installStart {
		if err := mgr.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Service started")
	}
	return nil
}
