package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/audit"
)

var (
	auditAgent  string
	auditAction string
	auditLimit  int
	auditPeriod string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		entries, err := a.Audit.GetRecent(cmd.Context(), audit.Filter{Limit: auditLimit, AgentID: auditAgent, Action: auditAction})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, entries)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tAGENT\tACTION\tTARGET\tTOKENS\tCOST\tUSER")
		for _, e := range entries {
			target := e.TargetType
			if e.TargetID != "" {
				target += ":" + e.TargetID
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n", e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.AgentID, e.Action, target, e.TokensUsed, e.Cost, e.UserID)
		}
		return tw.Flush()
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize actions, tokens and cost for a period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.Audit.GetStats(cmd.Context(), auditPeriod)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, st)
		}
		printHeader(out, "Audit stats ("+st.Period+")")
		fmt.Fprintf(out, "Actions: %d\n", st.TotalActions)
		fmt.Fprintf(out, "Tokens:  %d\n", st.TotalTokens)
		fmt.Fprintf(out, "Cost:    $%.4f\n", st.TotalCost)
		fmt.Fprintf(out, "Agents:  %d\n", st.ActiveAgents)
		return nil
	},
}

var auditCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete entries past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.Audit.CleanupExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days\n", n, a.Audit.RetentionDays())
		return nil
	},
}

func init() {
	auditRecentCmd.Flags().StringVar(&auditAgent, "agent", "", "Filter by agent id")
	auditRecentCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action")
	auditRecentCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum entries")
	auditStatsCmd.Flags().StringVar(&auditPeriod, "period", "day", "day, week or month")

	auditCmd.AddCommand(auditRecentCmd, auditStatsCmd, auditCleanupCmd)
	rootCmd.AddCommand(auditCmd)
}
