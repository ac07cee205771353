package service

import (
	"fmt"
	"path/filepath"
)

const systemdUnitTemplate = `[Unit]
Description=Omerix offline operation queue and sync agent
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
{{- if .System}}
User={{.User}}
Group={{.User}}
{{- end}}
WorkingDirectory={{.WorkDir}}
ExecStart={{.ExecPath}} serve --config {{.ConfigPath}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
StandardOutput=journal
StandardError=journal
SyslogIdentifier=omerix-sync

NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths={{.DataDir}}

[Install]
WantedBy={{if .System}}multi-user.target{{else}}default.target{{end}}
`

func (i *Installer) systemdPath(system bool) string {
	if system {
		return "/etc/systemd/system/" + Name + ".service"
	}
	return filepath.Join(i.Home, ".config", "systemd", "user", Name+".service")
}

func (i *Installer) systemctl(system bool, args ...string) error {
	if !system {
		args = append([]string{"--user"}, args...)
	}
	return i.Run("systemctl", args...)
}

func (i *Installer) afterSystemdInstall(path string, system bool) {
	fmt.Fprintf(i.Out, "Systemd unit installed: %s\n", path)

	if err := i.systemctl(system, "daemon-reload"); err != nil {
		fmt.Fprintf(i.Out, "Warning: systemctl daemon-reload failed: %v\n", err)
	}

	prefix := "systemctl --user"
	if system {
		prefix = "sudo systemctl"
	}
	fmt.Fprintln(i.Out, "\nNext steps:")
	fmt.Fprintf(i.Out, "   %s enable --now %s\n", prefix, Name)
	fmt.Fprintf(i.Out, "   %s status %s\n", prefix, Name)
	fmt.Fprintf(i.Out, "   %s reload %s   # re-read config\n", prefix, Name)
}
