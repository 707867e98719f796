package servicemanager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// systemdServiceName is the systemd user unit name.
const systemdServiceName = "atlas.service"

// systemdManager implements Manager for Linux using systemd user units.
type systemdManager struct {
	executor CommandExecutor
}

func newSystemdManager(executor CommandExecutor) *systemdManager {
	return &systemdManager{executor: executor}
}

// ServicePath returns the path to the systemd user unit file.
func (m *systemdManager) ServicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory; %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", systemdServiceName), nil
}

// unitOptions describes a Type=notify service: 'atlas watch' reports
// READY=1 once the first session is watching.
func unitOptions(spec Spec) []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "Atlas save backup watcher"),
		unit.NewUnitOption("Unit", "StartLimitBurst", "5"),
		unit.NewUnitOption("Unit", "StartLimitIntervalSec", "60"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "NotifyAccess", "main"),
		unit.NewUnitOption("Service", "ExecStart", quoteArgs(spec.Args())),
		unit.NewUnitOption("Service", "ExecReload", "/bin/kill -HUP $MAINPID"),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	}
}

// quoteArgs joins args for ExecStart, quoting any with spaces.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t\"") {
			arg = strconv.Quote(arg)
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}

// generateUnitFile renders the unit file content.
func generateUnitFile(spec Spec) (string, error) {
	data, err := io.ReadAll(unit.Serialize(unitOptions(spec)))
	if err != nil {
		return "", fmt.Errorf("failed to render unit file; %w", err)
	}
	return string(data), nil
}

// Install writes the systemd unit file and enables auto-start.
func (m *systemdManager) Install(ctx context.Context, spec Spec) error {
	unitPath, err := m.ServicePath()
	if err != nil {
		return err
	}

	content, err := generateUnitFile(spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return fmt.Errorf("failed to create systemd user directory; %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write unit file; %w", err)
	}

	if _, err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd daemon; %w", err)
	}
	if _, err := m.systemctl(ctx, "enable", systemdServiceName); err != nil {
		return fmt.Errorf("failed to enable service; %w", err)
	}

	return nil
}

// Uninstall stops the service, disables auto-start, and removes the unit file.
func (m *systemdManager) Uninstall(ctx context.Context) error {
	unitPath, err := m.ServicePath()
	if err != nil {
		return err
	}

	// Either may fail when the unit was never started or enabled
	_, _ = m.systemctl(ctx, "stop", systemdServiceName)
	_, _ = m.systemctl(ctx, "disable", systemdServiceName)

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file; %w", err)
	}

	_, _ = m.systemctl(ctx, "daemon-reload")
	return nil
}

func (m *systemdManager) Start(ctx context.Context) error {
	if _, err := m.systemctl(ctx, "start", systemdServiceName); err != nil {
		return fmt.Errorf("failed to start service; %w", err)
	}
	return nil
}

func (m *systemdManager) Stop(ctx context.Context) error {
	if _, err := m.systemctl(ctx, "stop", systemdServiceName); err != nil {
		return fmt.Errorf("failed to stop service; %w", err)
	}
	return nil
}

func (m *systemdManager) Reload(ctx context.Context) error {
	if _, err := m.systemctl(ctx, "reload", systemdServiceName); err != nil {
		return fmt.Errorf("failed to reload service; %w", err)
	}
	return nil
}

// Status returns the unit's state from systemctl show.
func (m *systemdManager) Status(ctx context.Context) (Status, error) {
	status := Status{State: ServiceStateNotInstalled}

	unitPath, err := m.ServicePath()
	if err != nil {
		return status, err
	}
	installed, err := fileExists(unitPath)
	if err != nil || !installed {
		return status, err
	}

	output, err := m.systemctl(ctx, "show", systemdServiceName,
		"--property=ActiveState,MainPID,UnitFileState,StatusText")
	if err != nil {
		// Installed, but systemd could not describe it
		status.State = ServiceStateDisabled
		return status, nil
	}

	return parseSystemctlOutput(string(output)), nil
}

func (m *systemdManager) systemctl(ctx context.Context, args ...string) ([]byte, error) {
	return m.executor.Run(ctx, "systemctl", append([]string{"--user"}, args...)...)
}

// parseSystemctlOutput parses KEY=VALUE lines from systemctl show.
func parseSystemctlOutput(output string) Status {
	status := Status{State: ServiceStateDisabled}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}

		switch key {
		case "ActiveState":
			status.Running = value == "active" || value == "activating" || value == "reloading"
		case "MainPID":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				status.PID = pid
			}
		case "UnitFileState":
			if value == "enabled" || value == "enabled-runtime" {
				status.State = ServiceStateEnabled
			}
		case "StatusText":
			status.Detail = value
		}
	}

	return status
}
