package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/omerix/offline-sync/internal/api"
	"github.com/omerix/offline-sync/internal/opqueue"
)

func newQueueCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the operation log",
	}

	cmd.AddCommand(newQueueListCmd(g))
	cmd.AddCommand(newQueueAddCmd(g))
	cmd.AddCommand(newQueueRemoveCmd(g))
	cmd.AddCommand(newQueueRequeueCmd(g))

	return cmd
}

func newQueueListCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued operations in replay order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ql, err := c.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list queue: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ql)
			}
			printQueue(out, ql)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}

func printQueue(out io.Writer, ql *api.QueueList) {
	if len(ql.Operations) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tID\tSTATE\tMETHOD\tURL\tRETRIES\tLAST STATUS\tCREATED")
	fmt.Fprintln(w, "---\t--\t-----\t------\t---\t-------\t-----------\t-------")
	for _, op := range ql.Operations {
		last := "-"
		if op.LastStatus != 0 {
			last = fmt.Sprintf("%d", op.LastStatus)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			op.Seq,
			op.ID,
			op.State,
			op.Method,
			op.URL,
			op.Retries,
			last,
			op.Created().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	st := ql.Stats
	fmt.Fprintf(out, "\n%d total: %d pending, %d retrying, %d dead\n", st.Total, st.Pending, st.Retrying, st.Dead)
}

func newQueueAddCmd(g *globals) *cobra.Command {
	var body string

	cmd := &cobra.Command{
		Use:   "add <method> <url>",
		Short: "Queue a write for later replay",
		Example: `  omerix-sync queue add POST /api/partes-trabajo/123/notas --body '{"texto":"hola"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.WriteRequest{Method: args[0], URL: args[1]}
			if body != "" {
				if !json.Valid([]byte(body)) {
					return fmt.Errorf("--body is not valid JSON")
				}
				req.Body = json.RawMessage(body)
			}

			c, err := g.client()
			if err != nil {
				return err
			}
			id, err := c.Enqueue(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "JSON request body")

	return cmd
}

func newQueueRemoveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Drop operations from the queue without replaying them",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := c.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", id)
			}
			return nil
		},
	}
}

func newQueueRequeueCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>...",
		Short: "Give dead operations a fresh retry budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			for _, id := range args {
				op, err := c.Requeue(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Requeued %s (%s)\n", op.ID, stateLabel(op.State))
			}
			return nil
		},
	}
}

func stateLabel(s opqueue.State) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}
