package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omerix/offline-sync/internal/config"
	"github.com/omerix/offline-sync/internal/service"
)

func newServiceCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove the daemon as a system service",
		Long: `Manage the OS service (systemd on Linux, launchd on macOS) that
runs "omerix-sync serve" at boot. Run as root for a system-wide
service, otherwise a per-user service is installed.`,
	}
	cmd.AddCommand(newServiceInstallCmd(g))
	cmd.AddCommand(newServiceUninstallCmd())
	return cmd
}

func newServiceInstallCmd(g *globals) *cobra.Command {
	var printOnly, system bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write and register the service definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := config.DefaultConfig().Server.DataDir
			cfg, err := config.Load(g.configPath)
			switch {
			case err == nil:
				dataDir = cfg.Server.DataDir
			case !errors.Is(err, os.ErrNotExist):
				return fmt.Errorf("load config: %w", err)
			}

			opts, err := service.DefaultOptions(g.configPath, dataDir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("system") {
				opts.System = system
			}

			inst := service.NewInstaller(cmd.OutOrStdout())
			if printOnly {
				content, err := inst.Render(opts)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), content)
				return nil
			}
			_, err = inst.Install(opts)
			return err
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the service definition instead of installing it")
	cmd.Flags().BoolVar(&system, "system", false, "Install a system-wide service (default when run as root)")
	return cmd
}

func newServiceUninstallCmd() *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("system") {
				system = os.Geteuid() == 0
			}
			return service.NewInstaller(cmd.OutOrStdout()).Uninstall(system)
		},
	}
	cmd.Flags().BoolVar(&system, "system", false, "Remove the system-wide service (default when run as root)")
	return cmd
}
