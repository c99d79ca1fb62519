package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/jobs"
)

var (
	jobsUser      string
	jobsStatsUser string
	jobsStatus    string
	jobsLimit     int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage background jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		list, err := a.Jobs.GetUserJobs(cmd.Context(), jobsUser, jobsStatus, jobsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No jobs.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAGENT\tPROCESSOR\tSTATUS\tPROGRESS\tUPDATED")
		for _, j := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n", j.ID, j.AgentID, j.Processor, statusColor(j.Status),
				j.Progress, j.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		job, err := a.Jobs.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s not found", args[0])
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, job)
		}
		printHeader(out, "Job "+job.ID)
		fmt.Fprintf(out, "Agent:     %s\n", job.AgentID)
		fmt.Fprintf(out, "User:      %s\n", job.UserID)
		fmt.Fprintf(out, "Processor: %s\n", job.Processor)
		fmt.Fprintf(out, "Status:    %s (%d%%)\n", statusColor(job.Status), job.Progress)
		if job.Message != "" {
			fmt.Fprintf(out, "Message:   %s\n", job.Message)
		}
		if job.ErrorMessage != "" {
			fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
		}
		if len(job.ResponseData) > 0 {
			fmt.Fprintf(out, "Response:  %s\n", job.ResponseData)
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ok, err := a.Jobs.CancelJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s is not pending", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", args[0])
		return nil
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.Jobs.GetStats(cmd.Context(), jobsStatsUser)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, st)
		}
		printHeader(out, "Job stats")
		for _, row := range []struct {
			status string
			n      int
		}{
			{jobs.StatusPending, st.Pending},
			{jobs.StatusProcessing, st.Processing},
			{jobs.StatusCompleted, st.Completed},
			{jobs.StatusFailed, st.Failed},
			{jobs.StatusCancelled, st.Cancelled},
		} {
			fmt.Fprintf(out, "  %-12s %d\n", row.status, row.n)
		}
		fmt.Fprintf(out, "  %-12s %d\n", "total", st.Total)
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.Jobs.CleanupOldJobs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", n)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsUser, "user", "cli", "Owner user id")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to list")
	jobsStatsCmd.Flags().StringVar(&jobsStatsUser, "user", "", "Owner user id (empty for all users)")

	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsCancelCmd, jobsStatsCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}
