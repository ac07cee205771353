// Package cli implements the omerix-sync command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Defaults for the global flags.
const (
	DefaultConfigPath = "omerix-sync.toml"
	DefaultAddr       = "http://localhost:8421"

	// AddrEnv and TokenEnv override the daemon address and local API token.
	AddrEnv  = "OMERIX_SYNC_ADDR"
	TokenEnv = "OMERIX_SYNC_TOKEN"
)

// RootOptions carries what the binary supplies to the command tree.
type RootOptions struct {
	Version   string
	BuildTime string
	// Serve runs the daemon until ctx is cancelled.
	Serve func(ctx context.Context, configPath string) error
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	addr       string
	token      string
}

// NewRootCmd builds the command tree.
func NewRootCmd(opts RootOptions) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "omerix-sync",
		Short: "Offline operation queue and sync agent for Omerix kiosks",
		Long: `omerix-sync keeps ERP writes made while a kiosk is offline in a
persistent operation log and replays them, in order, once the
connection comes back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", DefaultConfigPath, "Path to config file (.toml, .yaml or .json)")
	root.PersistentFlags().StringVar(&g.addr, "addr", envOr(AddrEnv, DefaultAddr), "Address of the running daemon")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv(TokenEnv), "Local API token (minted from the config's secret when empty)")

	root.AddCommand(newServeCmd(g, opts))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newQueueCmd(g))
	root.AddCommand(newFlushCmd(g))
	root.AddCommand(newTokenCmd(g))
	root.AddCommand(newScheduleCmd(g))
	root.AddCommand(newWatchCmd(g))
	root.AddCommand(newServiceCmd(g))
	root.AddCommand(newVersionCmd(opts))

	return root
}

func newServeCmd(g *globals, opts RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Long: `Run the sync daemon: local API, operation log, connectivity
monitor, automatic replay and scheduled jobs.

A default config is written if the file does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Serve == nil {
				return fmt.Errorf("serve not available in this build")
			}
			return opts.Serve(cmd.Context(), g.configPath)
		},
	}
}

func newVersionCmd(opts RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "omerix-sync %s (built %s)\n", opts.Version, opts.BuildTime)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
