package service

import (
	"fmt"
	"path/filepath"
)

const launchdLabel = "com.omerix.sync"

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>

	<key>ProgramArguments</key>
	<array>
		<string>{{.ExecPath}}</string>
		<string>serve</string>
		<string>--config</string>
		<string>{{.ConfigPath}}</string>
	</array>

	<key>WorkingDirectory</key>
	<string>{{.WorkDir}}</string>

	<key>RunAtLoad</key>
	<true/>

	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
		<key>Crashed</key>
		<true/>
	</dict>

	<key>StandardOutPath</key>
	<string>{{.LogDir}}/omerix-sync.log</string>

	<key>StandardErrorPath</key>
	<string>{{.LogDir}}/omerix-sync.error.log</string>

	<key>ProcessType</key>
	<string>Background</string>

	<key>ThrottleInterval</key>
	<integer>5</integer>
</dict>
</plist>
`

type launchdData struct {
	Options
	Label string
}

func (i *Installer) launchdPath(system bool) string {
	if system {
		return "/Library/LaunchDaemons/" + launchdLabel + ".plist"
	}
	return filepath.Join(i.Home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func (i *Installer) afterLaunchdInstall(path string, system bool) {
	fmt.Fprintf(i.Out, "Launchd plist installed: %s\n", path)

	if err := i.Run("launchctl", "load", path); err != nil {
		fmt.Fprintf(i.Out, "Warning: launchctl load failed: %v\n", err)
		fmt.Fprintf(i.Out, "   launchctl load %s\n", path)
	} else {
		fmt.Fprintln(i.Out, "Service loaded and will start on boot")
	}

	sudo := ""
	if system {
		sudo = "sudo "
	}
	fmt.Fprintln(i.Out, "\nManagement commands:")
	fmt.Fprintf(i.Out, "   %slaunchctl start %s\n", sudo, launchdLabel)
	fmt.Fprintf(i.Out, "   %slaunchctl stop %s\n", sudo, launchdLabel)
	fmt.Fprintf(i.Out, "   %slaunchctl unload %s\n", sudo, path)
}
