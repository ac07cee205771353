//go:build windows

package main

import "os"

// reloadSignals returns nil: Windows has no SIGHUP, the file watcher covers reloads.
func reloadSignals() []os.Signal {
	return nil
}
