// Package prune provides the prune command.
package prune

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/controller"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

var (
	pruneFlags cmdutil.WatchFlags
)

// PruneCmd applies the retention limit without writing an archive.
var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives beyond the retention limit",
	Long: "Delete archives beyond the retention limit.\n\n" +
		"Keeps the newest max-backups archives of the source folder and deletes the rest. " +
		"Only files whose names match the archive pattern for this source are considered; " +
		"anything else in the destination is left alone.",
	Example: `  # Apply the configured limit
  atlas prune

  # Keep only the newest three
  atlas prune -n 3`,
	PreRunE: validatePrune,
	RunE:    runPrune,
}

func init() {
	pruneFlags.Register(PruneCmd)
}

func validatePrune(cmd *cobra.Command, args []string) error {
	if err := cmdutil.CheckMaxBackupsFlag(cmd, pruneFlags.MaxBackups); err != nil {
		return err
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	_, wc, err := pruneFlags.WatchConfig(cmd)
	if err != nil {
		return err
	}

	sink := status.Multi{
		status.NewConsoleSink(cmd.OutOrStdout()),
		status.NewLogSink(slog.Default()),
	}
	res, err := controller.Prune(cmd.Context(), wc,
		controller.WithSink(sink),
		controller.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	var freed int64
	for _, rec := range res.Deleted {
		freed += rec.Size
	}

	out := cmd.OutOrStdout()
	if len(res.Deleted) == 0 {
		fmt.Fprintf(out, "Nothing to prune; %d archive(s) within the limit of %d\n", len(res.Kept), wc.MaxBackups)
	} else {
		fmt.Fprintf(out, "Deleted %d archive(s), freed %s; %d kept\n",
			len(res.Deleted), humanize.Bytes(uint64(freed)), len(res.Kept))
	}
	if len(res.Orphans) > 0 {
		fmt.Fprintf(out, "Removed %d temp file(s) left by interrupted backups\n", len(res.Orphans))
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d archive(s) could not be deleted", len(res.Failed))
	}
	return nil
}
