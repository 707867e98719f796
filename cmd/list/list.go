// Package list provides the list command.
package list

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/cmdutil"
	"github.com/leefowlercu/atlas-archive/internal/controller"
)

var (
	listFlags  cmdutil.WatchFlags
	listFormat string
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	excessStyle = cellStyle.Foreground(lipgloss.Color("245"))
)

// ListCmd shows the archives of the source folder.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the archives of the save folder",
	Long: "List the archives of the save folder, oldest first.\n\n" +
		"Shows every archive in the destination whose name matches this source, with the " +
		"tag that triggered it, its size and its age. Archives marked 'prune' are beyond " +
		"the retention limit and will be removed by the next backup or 'atlas prune'.",
	Example: `  # List archives
  atlas list

  # Machine-readable output
  atlas list --format json`,
	PreRunE: validateList,
	RunE:    runList,
}

func init() {
	listFlags.Register(ListCmd)
	ListCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format: table or json")
}

func validateList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("invalid --format %q; must be table or json", listFormat)
	}
	if err := cmdutil.CheckMaxBackupsFlag(cmd, listFlags.MaxBackups); err != nil {
		return err
	}

	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

// entry is one archive in JSON output.
type entry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Tag       string `json:"tag"`
	CreatedAt string `json:"created_at"`
	Size      int64  `json:"size"`
	Excess    bool   `json:"excess"`
}

func runList(cmd *cobra.Command, args []string) error {
	_, wc, err := listFlags.WatchConfig(cmd)
	if err != nil {
		return err
	}

	records, err := controller.List(cmd.Context(), wc, controller.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	// Oldest first, so the excess is the head of the list
	excess := max(len(records)-wc.MaxBackups, 0)

	if listFormat == "json" {
		return writeJSON(cmd, records, excess)
	}
	return writeTable(cmd, records, excess)
}

func writeJSON(cmd *cobra.Command, records []archive.Record, excess int) error {
	entries := make([]entry, len(records))
	for i, rec := range records {
		entries[i] = entry{
			Name:      rec.Name,
			Path:      rec.Path,
			Tag:       string(rec.Tag),
			CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Size:      rec.Size,
			Excess:    i < excess,
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeTable(cmd *cobra.Command, records []archive.Record, excess int) error {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No archives found")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CREATED", "TAG", "SIZE", "AGE", "NAME").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row >= 0 && row < excess {
				return excessStyle
			}
			return cellStyle
		})

	var total int64
	for i, rec := range records {
		name := rec.Name
		if i < excess {
			name += " (prune)"
		}
		t.Row(
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			string(rec.Tag),
			humanize.Bytes(uint64(rec.Size)),
			humanize.Time(rec.CreatedAt),
			name,
		)
		total += rec.Size
	}
	fmt.Fprintln(out, t.Render())

	fmt.Fprintf(out, "%d archive(s), %s total, keeping %d\n",
		len(records), humanize.Bytes(uint64(total)), len(records)-excess)
	return nil
}
