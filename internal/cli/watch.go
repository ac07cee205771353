package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omerix/offline-sync/internal/api"
	"github.com/omerix/offline-sync/internal/tui"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		logPath  string
		noStream bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live terminal dashboard",
		Long: `Open a terminal dashboard over the running daemon: connectivity,
queue contents and sync results, updated from the event stream.

Keys: f flush, r requeue selected, d delete selected, g refresh, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout is owned by the dashboard
			logger, closeLog, err := fileLogger(logPath)
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck

			c, err := g.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var events <-chan api.StreamEvent
			if !noStream {
				events, err = c.Watch(ctx)
				if err != nil {
					logger.Warn("event stream unavailable, polling only", "error", err)
					events = nil
				}
			}

			if err := tui.Run(ctx, c, events); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "omerix-sync-watch.log", "Log file (the terminal is used by the dashboard)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Poll only, do not open the event stream")

	return cmd
}
