package subcommands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/config"
	"github.com/leefowlercu/atlas-archive/internal/controller"
)

var (
	validatePaths bool
)

// ValidateCmd validates the current configuration.
var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	Long: "Validate the current configuration.\n\n" +
		"Checks the configuration file for syntax errors and validates that all " +
		"settings have valid values. With --paths, also checks that the source " +
		"folder exists and that the destination is not inside it. " +
		"Returns exit code 0 if valid, 1 if invalid.",
	Example: `  # Validate the configuration
  atlas config validate

  # Also check the watched folders
  atlas config validate --paths`,
	PreRunE: validateValidate,
	RunE:    runValidate,
}

func init() {
	ValidateCmd.Flags().BoolVar(&validatePaths, "paths", false, "Also check the source and destination folders")
}

func validateValidate(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := config.TargetPath()

	if !config.ConfigExistsAt(path) {
		fmt.Fprintf(out, "No configuration file found at %s\n", path)
		fmt.Fprintln(out, "Using default configuration values.")
		return nil
	}

	// LoadFromPath also validates
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		fmt.Fprintln(out, "Configuration validation failed:")
		fmt.Fprintf(out, "  %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	if validatePaths {
		if err := checkPaths(cfg); err != nil {
			fmt.Fprintln(out, "Watch paths are invalid:")
			fmt.Fprintf(out, "  %v\n", err)
			return fmt.Errorf("configuration is invalid")
		}
	}

	fmt.Fprintf(out, "Configuration is valid: %s\n", path)
	return nil
}

func checkPaths(cfg *config.Config) error {
	wc := cfg.ToWatchConfig()
	if wc.SourcePath == "" || wc.DestinationPath == "" {
		return errors.New("watch.source and watch.destination must both be set")
	}
	if err := wc.Validate(); err != nil {
		return err
	}
	return controller.CheckSource(wc.SourcePath)
}
