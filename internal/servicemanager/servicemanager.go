// Package servicemanager installs 'atlas watch' as a per-user service:
// a systemd user unit on Linux, a launchd agent on macOS.
package servicemanager

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Platform represents an operating system platform.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// String returns the platform as a string.
func (p Platform) String() string {
	return string(p)
}

// DetectPlatform returns the current platform.
func DetectPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	default:
		return PlatformUnknown
	}
}

// IsPlatformSupported returns true if the platform is supported.
// Currently only Linux and macOS are supported.
func IsPlatformSupported(p Platform) bool {
	return p == PlatformLinux || p == PlatformMacOS
}

// BinaryPath returns the path to the atlas binary.
// It checks in order:
//  1. The current executable path
//  2. ~/.local/bin/atlas
//  3. PATH lookup
func BinaryPath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}

	if home, err := os.UserHomeDir(); err == nil {
		localBin := filepath.Join(home, ".local", "bin", "atlas")
		if _, err := os.Stat(localBin); err == nil {
			return localBin
		}
	}

	if path, err := exec.LookPath("atlas"); err == nil {
		return path
	}

	return "atlas"
}

// Spec describes the service to install.
type Spec struct {
	// BinaryPath is the atlas executable. Empty means BinaryPath().
	BinaryPath string

	// ConfigPath is passed as --config so the service does not depend on
	// the search path. Empty omits the flag.
	ConfigPath string
}

// Args returns the command line the service runs.
func (s Spec) Args() []string {
	bin := s.BinaryPath
	if bin == "" {
		bin = BinaryPath()
	}
	args := []string{bin, "watch"}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	return args
}
