// Package service installs omerix-sync as an OS-managed service so the
// agent comes back after a kiosk reboot.
package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// Name is the service and unit name.
const Name = "omerix-sync"

// ErrUnsupported is returned on platforms without a service manager we know.
var ErrUnsupported = errors.New("service: unsupported platform")

// Options describe the service being installed.
type Options struct {
	ExecPath   string
	ConfigPath string
	WorkDir    string
	DataDir    string
	LogDir     string
	User       string
	// System installs a system-wide unit instead of a per-user one.
	System bool
}

// Installer writes and registers service definitions for one platform.
type Installer struct {
	// GOOS selects systemd ("linux") or launchd ("darwin").
	GOOS string
	// Home is the user's home directory for per-user units.
	Home string
	// Run executes service manager commands.
	Run func(name string, args ...string) error
	Out io.Writer
}

// NewInstaller returns an installer for the current platform.
func NewInstaller(out io.Writer) *Installer {
	home, _ := os.UserHomeDir()
	return &Installer{
		GOOS: runtime.GOOS,
		Home: home,
		Run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		Out: out,
	}
}

// DefaultOptions fills Options from the running binary and config path.
func DefaultOptions(configPath, dataDir string) (Options, error) {
	execPath, err := os.Executable()
	if err != nil {
		return Options{}, fmt.Errorf("get executable path: %w", err)
	}
	execPath, _ = filepath.Abs(execPath)

	workDir, err := os.Getwd()
	if err != nil {
		return Options{}, fmt.Errorf("get working directory: %w", err)
	}

	configPath, _ = filepath.Abs(configPath)
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(workDir, dataDir)
	}

	user := os.Getenv("USER")
	if user == "" {
		user = Name
	}

	return Options{
		ExecPath:   execPath,
		ConfigPath: configPath,
		WorkDir:    workDir,
		DataDir:    dataDir,
		LogDir:     filepath.Join(dataDir, "logs"),
		User:       user,
		System:     os.Geteuid() == 0,
	}, nil
}

// Render returns the service definition without installing it.
func (i *Installer) Render(o Options) (string, error) {
	var (
		tmpl string
		data any
	)
	switch i.GOOS {
	case "linux":
		tmpl, data = systemdUnitTemplate, o
	case "darwin":
		tmpl, data = launchdPlistTemplate, launchdData{Options: o, Label: launchdLabel}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, i.GOOS)
	}

	t, err := template.New(Name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}

// Path is where the service definition lives.
func (i *Installer) Path(system bool) (string, error) {
	switch i.GOOS {
	case "linux":
		return i.systemdPath(system), nil
	case "darwin":
		return i.launchdPath(system), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, i.GOOS)
	}
}

// Install writes the service definition and registers it.
func (i *Installer) Install(o Options) (string, error) {
	content, err := i.Render(o)
	if err != nil {
		return "", err
	}
	path, err := i.Path(o.System)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create service dir: %w", err)
	}
	if i.GOOS == "darwin" {
		if err := os.MkdirAll(o.LogDir, 0o755); err != nil {
			return "", fmt.Errorf("create log dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write service file: %w", err)
	}

	switch i.GOOS {
	case "linux":
		i.afterSystemdInstall(path, o.System)
	case "darwin":
		i.afterLaunchdInstall(path, o.System)
	}
	return path, nil
}

// Uninstall stops the service and removes its definition. Missing services
// are not an error.
func (i *Installer) Uninstall(system bool) error {
	path, err := i.Path(system)
	if err != nil {
		return err
	}

	switch i.GOOS {
	case "linux":
		_ = i.systemctl(system, "stop", Name)
		_ = i.systemctl(system, "disable", Name)
	case "darwin":
		_ = i.Run("launchctl", "unload", path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove service file: %w", err)
	}

	if i.GOOS == "linux" {
		_ = i.systemctl(system, "daemon-reload")
	}
	fmt.Fprintf(i.Out, "Service removed: %s\n", path)
	return nil
}
