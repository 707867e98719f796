// Package backup provides the backup command.
package backup

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/controller"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

var (
	backupFlags cmdutil.WatchFlags
)

// BackupCmd writes one archive immediately.
var BackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the save folder now",
	Long: "Back up the save folder now.\n\n" +
		"Writes a single archive tagged Manual and then applies the retention limit, exactly as a " +
		"watch session would after a save. Fails if a watch session is using the same destination.",
	Example: `  # Back up using the paths from the config file
  atlas backup

  # Back up an explicit folder
  atlas backup --source ~/Saves/Hades --dest ~/Backups/Hades`,
	PreRunE: validateBackup,
	RunE:    runBackup,
}

func init() {
	backupFlags.Register(BackupCmd)
}

func validateBackup(cmd *cobra.Command, args []string) error {
	if err := cmdutil.CheckMaxBackupsFlag(cmd, backupFlags.MaxBackups); err != nil {
		return err
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, wc, err := backupFlags.WatchConfig(cmd)
	if err != nil {
		return err
	}

	sink := status.Multi{
		status.NewConsoleSink(cmd.OutOrStdout()),
		status.NewLogSink(slog.Default()),
	}
	opts := append(cmdutil.PipelineOptions(cfg),
		controller.WithSink(sink),
		controller.WithLogger(slog.Default()),
	)

	res, err := controller.Backup(cmd.Context(), wc, classify.TagManual, opts...)
	if err != nil {
		return err
	}

	if n := len(res.Retention.Deleted); n > 0 {
		status.Infof(sink, "Removed %d old archive(s)", n)
	}
	return nil
}
