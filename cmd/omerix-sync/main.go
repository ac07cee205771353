// Command omerix-sync is the kiosk-side agent that keeps ERP writes made
// while offline and replays them when the connection returns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omerix/offline-sync/internal/cli"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(cli.RootOptions{
		Version:   version,
		BuildTime: buildTime,
		Serve:     serve,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, configPath string) error {
	app, err := setup(ctx, configPath, os.Stdout)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	printBanner(app)
	return app.Run(ctx)
}
