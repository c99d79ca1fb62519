package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/orchestrator"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run system health checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		report, err := a.Orchestrator.SystemCheck(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printCheckReport(out, *report)
		}
		if report.Overall == orchestrator.CheckFail {
			return fmt.Errorf("system check failed")
		}
		return nil
	},
}

func printCheckReport(w io.Writer, report orchestrator.CheckReport) {
	printHeader(w, "System check")
	for _, c := range report.Checks {
		var tag string
		switch c.Status {
		case orchestrator.CheckOK:
			tag = color.GreenString("PASS")
		case orchestrator.CheckWarn:
			tag = color.YellowString("WARN")
		default:
			tag = color.RedString("FAIL")
		}
		fmt.Fprintf(w, "[%s] %-18s %s\n", tag, c.Name, c.Message)
	}
	fmt.Fprintf(w, "\nOverall: %s\n", statusColor(report.Overall))
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
