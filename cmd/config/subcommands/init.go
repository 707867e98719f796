package subcommands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/config"
)

var (
	initSource string
	initDest   string
	initPath   string
	initForce  bool
)

// InitCmd writes a starter config file.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: "Create a configuration file.\n\n" +
		"Writes the default configuration to ~/.config/atlas/config.yaml (or the " +
		"file named by --file or --config), filling in the save folder and backup " +
		"folder when given. A file ending in .toml is written as TOML. An existing " +
		"file is only replaced with --force.",
	Example: `  # Create the default config for a save folder
  atlas config init --source ~/Saves/Hades --dest ~/Backups/Hades

  # Write TOML instead
  atlas config init --file ~/.config/atlas/config.toml`,
	PreRunE: validateInit,
	RunE:    runInit,
}

func init() {
	InitCmd.Flags().StringVarP(&initSource, "source", "s", "", "Save folder to watch")
	InitCmd.Flags().StringVarP(&initDest, "dest", "d", "", "Folder to write archives to")
	InitCmd.Flags().StringVar(&initPath, "file", "", "Config file to write (default: the active config location)")
	InitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func validateInit(cmd *cobra.Command, args []string) error {
	if initPath != "" {
		switch strings.ToLower(filepath.Ext(initPath)) {
		case ".yaml", ".yml", ".toml":
		default:
			return fmt.Errorf("--file must end in .yaml, .yml or .toml")
		}
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.ExpandPath(initPath)
	if path == "" {
		path = config.TargetPath()
	}

	if config.ConfigExistsAt(path) && !initForce {
		return fmt.Errorf("config file %s already exists; use --force to overwrite", path)
	}

	cfg := config.NewDefaultConfig()
	var err error
	if initSource != "" {
		if cfg.Watch.Source, err = cmdutil.ResolvePath(initSource); err != nil {
			return err
		}
	}
	if initDest != "" {
		if cfg.Watch.Destination, err = cmdutil.ResolvePath(initDest); err != nil {
			return err
		}
	}

	if err := config.Validate(&cfg); err != nil {
		return err
	}
	if err := config.Write(&cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", path)
	if cfg.Watch.Source == "" || cfg.Watch.Destination == "" {
		fmt.Fprintln(out, "Set watch.source and watch.destination, or pass --source and --dest to atlas watch.")
	}
	return nil
}
