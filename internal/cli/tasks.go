package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/scheduler"
)

var tasksAsync bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and run agent tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tasks and their next scheduled run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runs, err := scheduler.NextRuns(cfg, time.Now())
		if err != nil {
			return err
		}
		next := make(map[string]time.Time, len(runs))
		for _, r := range runs {
			next[r.AgentID+"/"+r.TaskID] = r.Next
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, runs)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AGENT\tTASK\tSCHEDULE\tNEXT RUN")
		for _, agent := range cfg.Agents {
			for _, task := range agent.Tasks {
				schedule, when := "manual", "-"
				if task.Schedule != "" {
					schedule = task.Schedule
					when = next[agent.ID+"/"+task.ID].Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", agent.ID, task.ID, schedule, when)
			}
		}
		return tw.Flush()
	},
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <agent-id> <task-id>",
	Short: "Run an agent task now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		out := cmd.OutOrStdout()
		if tasksAsync {
			id, err := a.Orchestrator.EnqueueTask(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Queued job %s\n", id)
			return nil
		}
		res, err := a.Orchestrator.RunTask(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		if !res.Success {
			return fmt.Errorf("%s", res.Message)
		}
		fmt.Fprintln(out, res.Response)
		fmt.Fprintf(out, "(%dms)\n", res.DurationMS)
		return nil
	},
}

func init() {
	tasksRunCmd.Flags().BoolVar(&tasksAsync, "async", false, "Queue the task as a background job")
	tasksCmd.AddCommand(tasksListCmd, tasksRunCmd)
	rootCmd.AddCommand(tasksCmd)
}
