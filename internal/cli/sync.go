package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omerix/offline-sync/internal/security"
)

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out := cmd.OutOrStdout()
			online := "offline"
			if st.Online {
				online = "online"
			}
			fmt.Fprintf(out, "Version:      %s (up %s)\n", st.Version, time.Duration(st.UptimeSeconds*float64(time.Second)).Round(time.Second))
			fmt.Fprintf(out, "Connectivity: %s", online)
			if st.Connectivity.Source != "" {
				fmt.Fprintf(out, " (via %s at %s)", st.Connectivity.Source, st.Connectivity.At.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Queue:        %d pending, %d retrying, %d dead\n", st.Queue.Pending, st.Queue.Retrying, st.Queue.Dead)
			fmt.Fprintf(out, "Session:      %s\n", describeSession(st.Session))
			if st.LastFlush != nil {
				lf := st.LastFlush
				fmt.Fprintf(out, "Last flush:   %s ok=%d failed=%d dead=%d deferred=%d (%s)\n",
					lf.Started.Format(time.RFC3339), lf.OK, lf.Failed, lf.Dead, lf.Deferred, lf.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}
}

func describeSession(s security.SessionInfo) string {
	if !s.Present {
		return "signed out"
	}
	desc := "token " + s.Fingerprint
	if s.ExpiresAt != nil {
		desc += ", expires " + s.ExpiresAt.Format(time.RFC3339)
	}
	if s.Expired {
		desc += " (EXPIRED)"
	}
	return desc
}

func newFlushCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay the queue now and wait for the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Flush(cmd.Context())
			if err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok=%d failed=%d dead=%d deferred=%d\n", res.OK, res.Failed, res.Dead, res.Deferred)
			return nil
		},
	}
}

func newTokenCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the ERP session token and local API tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store the ERP session token used to replay writes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			info, err := c.SetToken(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("set token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Session stored: %s\n", describeSession(*info))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the ERP session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.ClearToken(cmd.Context()); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Session cleared")
			return nil
		},
	})

	cmd.AddCommand(newTokenIssueCmd(g))

	return cmd
}

func newTokenIssueCmd(g *globals) *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a local API token for a kiosk front end or operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !security.IsValidRole(role) {
				return fmt.Errorf("invalid role %q (use one of %v)", role, security.ValidRoles)
			}
			secret, err := g.secret()
			if err != nil {
				return err
			}
			if secret == nil {
				return fmt.Errorf("no local API secret configured; the daemon runs unauthenticated")
			}
			token, err := security.GenerateToken(subject, role, secret, ttl)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", security.RoleKiosk, "Role: operator, kiosk or readonly")
	cmd.Flags().StringVar(&subject, "subject", "kiosk", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	return cmd
}
