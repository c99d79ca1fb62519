package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/security"
)

var (
	securityEventType string
	securityLimit     int
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Security filter tools",
}

var securityScanCmd = &cobra.Command{
	Use:   "scan <text>",
	Short: "Check text against the content filter without sending it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		res, failed := security.CheckContent(text)
		if !failed {
			res.PIIWarning = security.DetectPII(text)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		if failed {
			line := res.Code
			if res.Pattern != "" {
				line += " (" + res.Pattern + ")"
			}
			fmt.Fprintf(out, "%s %s\n", color.RedString("BLOCKED"), line)
			return nil
		}
		fmt.Fprintln(out, color.GreenString("PASS"))
		if len(res.PIIWarning) > 0 {
			fmt.Fprintf(out, "%s contains %s\n", color.YellowString("WARN"), strings.Join(res.PIIWarning, ", "))
		}
		return nil
	},
}

var securitySanitizeCmd = &cobra.Command{
	Use:   "sanitize <text>",
	Short: "Replace detected PII with placeholders",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), security.Sanitize(strings.Join(args, " ")))
	},
}

var securityEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent security events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		events, err := a.Events.Recent(cmd.Context(), securityLimit, securityEventType)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, events)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tREQUESTER\tPATTERN\tMESSAGE")
		for _, ev := range events {
			pattern := ev.Pattern
			if len(ev.PIITypes) > 0 {
				pattern = strings.Join(ev.PIITypes, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type,
				ev.Requester.RateKey(), pattern, ev.Message)
		}
		return tw.Flush()
	},
}

func init() {
	securityEventsCmd.Flags().StringVar(&securityEventType, "type", "", "blocked, rate_limited or pii_warning")
	securityEventsCmd.Flags().IntVar(&securityLimit, "limit", 20, "Maximum events")

	securityCmd.AddCommand(securityScanCmd, securitySanitizeCmd, securityEventsCmd)
	rootCmd.AddCommand(securityCmd)
}
