package servicemanager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const (
	// launchdServiceLabel is the launchd service identifier.
	launchdServiceLabel = "com.leefowlercu.atlas"

	// launchdPlistName is the plist filename.
	launchdPlistName = launchdServiceLabel + ".plist"
)

var launchdPlistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`))

// launchdManager implements Manager for macOS using a launch agent.
type launchdManager struct {
	executor CommandExecutor
}

func newLaunchdManager(executor CommandExecutor) *launchdManager {
	return &launchdManager{executor: executor}
}

// ServicePath returns the path to the launch agent plist.
func (m *launchdManager) ServicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory; %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchdPlistName), nil
}

// generatePlist renders the plist content. text/template does not escape,
// so arguments are XML-escaped first.
func generatePlist(spec Spec) (string, error) {
	args := spec.Args()
	for i, arg := range args {
		args[i] = xmlEscape(arg)
	}

	data := struct {
		Label string
		Args  []string
	}{
		Label: launchdServiceLabel,
		Args:  args,
	}

	var buf bytes.Buffer
	if err := launchdPlistTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render plist; %w", err)
	}
	return buf.String(), nil
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}

// Install writes the launch agent and loads it.
func (m *launchdManager) Install(ctx context.Context, spec Spec) error {
	plistPath, err := m.ServicePath()
	if err != nil {
		return err
	}

	content, err := generatePlist(spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(plistPath), 0755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory; %w", err)
	}
	if err := os.WriteFile(plistPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write plist file; %w", err)
	}

	// load -w also enables it
	if _, err := m.executor.Run(ctx, "launchctl", "load", "-w", plistPath); err != nil {
		return fmt.Errorf("failed to load service with launchctl; %w", err)
	}

	return nil
}

// Uninstall unloads the agent and removes the plist.
func (m *launchdManager) Uninstall(ctx context.Context) error {
	plistPath, err := m.ServicePath()
	if err != nil {
		return err
	}

	_, _ = m.executor.Run(ctx, "launchctl", "unload", plistPath)

	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist file; %w", err)
	}
	return nil
}

func (m *launchdManager) Start(ctx context.Context) error {
	if _, err := m.executor.Run(ctx, "launchctl", "start", launchdServiceLabel); err != nil {
		return fmt.Errorf("failed to start service; %w", err)
	}
	return nil
}

func (m *launchdManager) Stop(ctx context.Context) error {
	if _, err := m.executor.Run(ctx, "launchctl", "stop", launchdServiceLabel); err != nil {
		return fmt.Errorf("failed to stop service; %w", err)
	}
	return nil
}

// Reload sends SIGHUP to the agent's process.
func (m *launchdManager) Reload(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Running || status.PID == 0 {
		return fmt.Errorf("service is not running")
	}
	if _, err := m.executor.Run(ctx, "kill", "-HUP", strconv.Itoa(status.PID)); err != nil {
		return fmt.Errorf("failed to signal service; %w", err)
	}
	return nil
}

// Status returns the agent's state from launchctl list.
func (m *launchdManager) Status(ctx context.Context) (Status, error) {
	status := Status{State: ServiceStateNotInstalled}

	plistPath, err := m.ServicePath()
	if err != nil {
		return status, err
	}
	installed, err := fileExists(plistPath)
	if err != nil || !installed {
		return status, err
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := m.executor.Run(listCtx, "launchctl", "list", launchdServiceLabel)
	if err != nil {
		// Installed but not loaded
		status.State = ServiceStateDisabled
		return status, nil //nolint:nilerr // not loaded is a state, not an error
	}

	status.State = ServiceStateEnabled
	status.PID, status.Running = parseLaunchctlOutput(string(output))
	return status, nil
}

// parseLaunchctlOutput finds the PID in launchctl list output, either the
// `"PID" = 123;` dictionary form or a tabular line starting with the PID.
func parseLaunchctlOutput(output string) (int, bool) {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)

		if rest, ok := strings.CutPrefix(line, `"PID"`); ok {
			value := strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "=")), "; ")
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				return pid, true
			}
			continue
		}

		if fields := strings.Fields(line); len(fields) > 0 {
			if pid, err := strconv.Atoi(fields[0]); err == nil && pid > 0 {
				return pid, true
			}
		}
	}
	return 0, false
}
