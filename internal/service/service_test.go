package service

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) run(name string, args ...string) error {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	return r.err
}

func testInstaller(t *testing.T, goos string) (*Installer, *recorder, *bytes.Buffer) {
	t.Helper()
	rec := &recorder{}
	var out bytes.Buffer
	return &Installer{GOOS: goos, Home: t.TempDir(), Run: rec.run, Out: &out}, rec, &out
}

func testOptions(t *testing.T) Options {
	dir := t.TempDir()
	return Options{
		ExecPath:   "/usr/local/bin/omerix-sync",
		ConfigPath: "/etc/omerix/omerix-sync.toml",
		WorkDir:    dir,
		DataDir:    filepath.Join(dir, "data"),
		LogDir:     filepath.Join(dir, "data", "logs"),
		User:       "kiosk",
	}
}

func TestRenderSystemd(t *testing.T) {
	inst, _, _ := testInstaller(t, "linux")
	o := testOptions(t)

	unit, err := inst.Render(o)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{
		"ExecStart=/usr/local/bin/omerix-sync serve --config /etc/omerix/omerix-sync.toml",
		"ReadWritePaths=" + o.DataDir,
		"ExecReload=/bin/kill -HUP $MAINPID",
		"WantedBy=default.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
	if strings.Contains(unit, "User=") {
		t.Error("user unit should not set User=")
	}

	o.System = true
	unit, err = inst.Render(o)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(unit, "User=kiosk") || !strings.Contains(unit, "WantedBy=multi-user.target") {
		t.Errorf("system unit:\n%s", unit)
	}
}

func TestRenderLaunchd(t *testing.T) {
	inst, _, _ := testInstaller(t, "darwin")
	o := testOptions(t)

	plist, err := inst.Render(o)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{
		"<string>com.omerix.sync</string>",
		"<string>serve</string>",
		"<string>" + o.LogDir + "/omerix-sync.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	inst, _, _ := testInstaller(t, "plan9")
	if _, err := inst.Render(testOptions(t)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Render error = %v, want ErrUnsupported", err)
	}
	if _, err := inst.Install(testOptions(t)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Install error = %v, want ErrUnsupported", err)
	}
}

func TestInstallUninstallSystemdUser(t *testing.T) {
	inst, rec, out := testInstaller(t, "linux")

	path, err := inst.Install(testOptions(t))
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if want := filepath.Join(inst.Home, ".config", "systemd", "user", "omerix-sync.service"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "systemctl --user daemon-reload" {
		t.Errorf("calls = %v", rec.calls)
	}
	if !strings.Contains(out.String(), "systemctl --user enable --now omerix-sync") {
		t.Errorf("output:\n%s", out.String())
	}

	rec.calls = nil
	if err := inst.Uninstall(false); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("unit file should be removed")
	}
	want := []string{
		"systemctl --user stop omerix-sync",
		"systemctl --user disable omerix-sync",
		"systemctl --user daemon-reload",
	}
	if strings.Join(rec.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
}

func TestInstallLaunchdLoadFailure(t *testing.T) {
	inst, rec, out := testInstaller(t, "darwin")
	rec.err = errors.New("launchctl not found")
	o := testOptions(t)

	path, err := inst.Install(o)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if _, err := os.Stat(o.LogDir); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("plist not written: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: launchctl load failed") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestUninstallMissing(t *testing.T) {
	inst, _, _ := testInstaller(t, "linux")
	if err := inst.Uninstall(false); err != nil {
		t.Errorf("Uninstall of missing service: %v", err)
	}
}
