package subcommands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/servicemanager"
)

var (
	statusJSON bool
)

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// serviceStatus is the JSON form of the status output.
type serviceStatus struct {
	Installed bool   `json:"installed"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path,omitempty"`
}

// StatusCmd shows the service state.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the service is installed and running",
	Long: "Show whether the service is installed and running.\n\n" +
		"On Linux the detail line is the status the watch reports to systemd, " +
		"such as the last backup written.",
	Example: `  # Check the service
  atlas service status

  # Machine-readable output
  atlas service status --json`,
	PreRunE: validateStatus,
	RunE:    runStatus,
}

func init() {
	StatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}

func validateStatus(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	mgr, err := manager()
	if err != nil {
		return err
	}

	st, err := mgr.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to query service; %w", err)
	}
	path, _ := mgr.ServicePath()

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(toServiceStatus(st, path))
	}

	fmt.Fprintln(out, formatStatus(st, path))
	return nil
}

func toServiceStatus(st servicemanager.Status, path string) serviceStatus {
	installed := st.State != servicemanager.ServiceStateNotInstalled
	s := serviceStatus{
		Installed: installed,
		Enabled:   st.State == servicemanager.ServiceStateEnabled,
		Running:   st.Running,
		PID:       st.PID,
		Detail:    st.Detail,
	}
	if installed {
		s.Path = path
	}
	return s
}

func formatStatus(st servicemanager.Status, path string) string {
	if st.State == servicemanager.ServiceStateNotInstalled {
		return "Service: " + stoppedStyle.Render("not installed")
	}

	var sb strings.Builder

	if st.Running {
		state := "running"
		if st.PID > 0 {
			state = fmt.Sprintf("running (PID %d)", st.PID)
		}
		sb.WriteString("Service: " + runningStyle.Render(state))
	} else {
		sb.WriteString("Service: " + stoppedStyle.Render("stopped"))
	}

	sb.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Auto-start:"), st.State))
	if st.Detail != "" {
		sb.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Status:"), st.Detail))
	}
	sb.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("File:"), path))

	return sb.String()
}
