package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/omerix/offline-sync/internal/config"
	"github.com/omerix/offline-sync/internal/scheduler"
)

func newScheduleCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the configured maintenance jobs",
		Long: `Show the scheduled jobs from the config file.

Jobs are edited in the config; a running daemon picks up changes to the
scheduler section without a restart.

Schedule Kinds:
  interval   - Run every N milliseconds (intervalMs)
  cron       - Run on cron expression (expr)
  at         - Run daily at specific time (time="HH:MM")

Action Kinds:
  flush        - Replay the queue with the stored session token
  purge-dead   - Drop dead operations older than retentionDays`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs and their next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFromFile(g.configPath)
			if err != nil {
				return err
			}
			scheduleList(cmd.OutOrStdout(), cfg, time.Now())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFromFile(g.configPath)
			if err != nil {
				return err
			}
			return scheduleShow(cmd.OutOrStdout(), cfg, args[0], time.Now())
		},
	})

	return cmd
}

func scheduleList(out io.Writer, cfg *config.Config, now time.Time) {
	if !cfg.Scheduler.Enabled {
		fmt.Fprintln(out, "Scheduler is disabled in config")
		return
	}
	if len(cfg.Scheduler.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs configured")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tACTION\tENABLED\tNEXT RUN")
	fmt.Fprintln(w, "--\t----\t--------\t------\t-------\t--------")

	for _, jc := range cfg.Scheduler.Jobs {
		enabled := "yes"
		if !jc.Enabled {
			enabled = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			jc.ID,
			jc.Name,
			formatSchedule(jc.Schedule),
			formatAction(jc.Action),
			enabled,
			nextRun(jc, now))
	}

	w.Flush()
}

func scheduleShow(out io.Writer, cfg *config.Config, id string, now time.Time) error {
	for _, jc := range cfg.Scheduler.Jobs {
		if jc.ID != id {
			continue
		}
		fmt.Fprintf(out, "Job: %s\n", jc.Name)
		fmt.Fprintf(out, "ID: %s\n", jc.ID)
		fmt.Fprintf(out, "Enabled: %v\n", jc.Enabled)
		fmt.Fprintf(out, "Schedule: %s\n", formatSchedule(jc.Schedule))
		fmt.Fprintf(out, "Action: %s\n", formatAction(jc.Action))
		fmt.Fprintf(out, "Next run: %s\n", nextRun(jc, now))
		return nil
	}
	return fmt.Errorf("job %q not found", id)
}

// nextRun validates the job the way the daemon will and reports its next
// run time, or why it will not run.
func nextRun(jc config.SchedulerJobConfig, now time.Time) string {
	job := scheduler.JobFromConfig(jc)
	if err := job.Validate(); err != nil {
		return "invalid: " + err.Error()
	}
	if !job.Enabled {
		return "-"
	}
	next, err := job.NextRun(now)
	if err != nil {
		return "error: " + err.Error()
	}
	return next.Format("2006-01-02 15:04 MST")
}

func formatSchedule(s config.ScheduleConfig) string {
	var desc string
	switch s.Kind {
	case "interval":
		duration := time.Duration(s.IntervalMs) * time.Millisecond
		desc = fmt.Sprintf("Every %s", duration)
	case "cron":
		desc = fmt.Sprintf("Cron: %s", s.Expr)
	case "at":
		desc = fmt.Sprintf("Daily at %s", s.Time)
	default:
		return s.Kind
	}
	if s.Timezone != "" {
		desc += " " + s.Timezone
	}
	return desc
}

func formatAction(a config.ActionConfig) string {
	switch a.Kind {
	case scheduler.ActionPurgeDead:
		return fmt.Sprintf("Purge dead > %s", scheduler.ActionConfig{Kind: a.Kind, RetentionDays: a.RetentionDays}.Retention())
	case scheduler.ActionFlush:
		return "Flush queue"
	default:
		return a.Kind
	}
}
