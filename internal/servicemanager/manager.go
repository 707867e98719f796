package servicemanager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ServiceState represents the installation state of the service.
type ServiceState string

const (
	// ServiceStateEnabled indicates the service is installed and enabled for auto-start.
	ServiceStateEnabled ServiceState = "enabled"

	// ServiceStateDisabled indicates the service is installed but not enabled for auto-start.
	ServiceStateDisabled ServiceState = "disabled"

	// ServiceStateNotInstalled indicates the service is not installed.
	ServiceStateNotInstalled ServiceState = "not-installed"
)

// String returns the service state as a string.
func (s ServiceState) String() string {
	return string(s)
}

// Status is the service as the platform's service manager sees it.
type Status struct {
	State   ServiceState
	Running bool
	PID     int

	// Detail is the platform's own status line, e.g. the STATUS= text the
	// watch command reports to systemd.
	Detail string
}

// Manager provides platform-agnostic service management.
type Manager interface {
	// Install writes the service file and enables auto-start.
	Install(ctx context.Context, spec Spec) error

	// Uninstall stops the service, disables auto-start, and removes the service file.
	Uninstall(ctx context.Context) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Reload asks the running service to re-read its config file.
	Reload(ctx context.Context) error

	Status(ctx context.Context) (Status, error)

	// ServicePath returns the path of the service file.
	ServicePath() (string, error)
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultExecutor struct{}

func (e *defaultExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewCommandExecutor returns the default command executor.
func NewCommandExecutor() CommandExecutor {
	return &defaultExecutor{}
}

// New returns the Manager for the current platform.
func New() (Manager, error) {
	return NewWithExecutor(NewCommandExecutor())
}

// NewWithExecutor returns a Manager with a custom command executor.
func NewWithExecutor(executor CommandExecutor) (Manager, error) {
	platform := DetectPlatform()
	if !IsPlatformSupported(platform) {
		return nil, fmt.Errorf("platform %s is not supported", platform)
	}

	switch platform {
	case PlatformMacOS:
		return newLaunchdManager(executor), nil
	case PlatformLinux:
		return newSystemdManager(executor), nil
	default:
		return nil, fmt.Errorf("unexpected platform: %s", platform)
	}
}

// fileExists reports whether path exists.
func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
