package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/cmd/backup"
	configcmd "github.com/leefowlercu/atlas-archive/cmd/config"
	"github.com/leefowlercu/atlas-archive/cmd/list"
	"github.com/leefowlercu/atlas-archive/cmd/prune"
	"github.com/leefowlercu/atlas-archive/cmd/service"
	"github.com/leefowlercu/atlas-archive/cmd/version"
	"github.com/leefowlercu/atlas-archive/cmd/watch"
	"github.com/leefowlercu/atlas-archive/internal/config"
	"github.com/leefowlercu/atlas-archive/internal/logging"
)

// logManager is the global logging manager, created in init() and upgraded after config loads
var logManager *logging.Manager

var configPath string

var atlasCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Automatic backups of game save folders",
	Long: "Atlas watches a game's save folder and writes a zip archive of it shortly after the game stops writing.\n\n" +
		"Changes are grouped until the folder has been quiet for a short period, so one save produces one archive. " +
		"Archives are named after the time, the save folder and the kind of change that triggered them, " +
		"and only the newest few are kept.",
	PersistentPreRunE: runInitialize,
}

func init() {
	// Bootstrap mode (stderr text only) until config is read
	logManager = logging.NewManager()
	logging.SetDefault(logManager)

	atlasCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file to use instead of searching (YAML or TOML)")

	atlasCmd.AddCommand(watch.WatchCmd)
	atlasCmd.AddCommand(backup.BackupCmd)
	atlasCmd.AddCommand(prune.PruneCmd)
	atlasCmd.AddCommand(list.ListCmd)
	atlasCmd.AddCommand(configcmd.ConfigCmd)
	atlasCmd.AddCommand(service.ServiceCmd)
	atlasCmd.AddCommand(version.VersionCmd)
}

func runInitialize(cmd *cobra.Command, args []string) error {
	logger := logManager.Logger()

	config.SetConfigFile(configPath)
	if err := config.Init(); err != nil {
		return err
	}

	// An invalid file still lets 'config validate' and 'config show' run
	cfg, err := config.Current()
	if err != nil {
		logger.Warn("configuration is invalid; using defaults for logging", "error", err)
		cfg = config.LoadWithDefaults()
	}

	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok && cfg.LogLevel != "" {
		logger.Warn("invalid log level configured, using default", "configured", cfg.LogLevel, "default", "info")
	}

	if err := logManager.Upgrade(LogFileConfig(cfg), level); err != nil {
		// Keep going with stderr only
		logger.Warn("failed to enable file logging, continuing with stderr only", "error", err)
	}

	return nil
}

// LogFileConfig maps the log settings of cfg onto the logging package.
func LogFileConfig(cfg *config.Config) logging.FileConfig {
	return logging.FileConfig{
		Path:       config.ExpandPath(cfg.LogFile),
		MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
		MaxBackups: cfg.LogRotation.MaxBackups,
		MaxAgeDays: cfg.LogRotation.MaxAgeDays,
		Compress:   cfg.LogRotation.Compress,
	}
}

func Execute() error {
	atlasCmd.SilenceErrors = true
	atlasCmd.SilenceUsage = true

	// Ensure logging is properly closed on exit
	defer func() { _ = logManager.Close() }()

	err := atlasCmd.Execute()

	if err != nil {
		cmd, _, _ := atlasCmd.Find(os.Args[1:])
		if cmd == nil {
			cmd = atlasCmd
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Fprintf(os.Stderr, "\n")
			cmd.SetOut(os.Stderr)
			_ = cmd.Usage()
		}

		return err
	}

	return nil
}
