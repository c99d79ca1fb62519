package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	proposalsAgent string
	proposalsUser  string
	proposalsDiff  bool
)

var proposalsCmd = &cobra.Command{
	Use:     "proposals",
	Aliases: []string{"proposal"},
	Short:   "Review pending change proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending proposals, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		list, err := a.Proposals.ListPending(cmd.Context(), proposalsAgent, 100)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No pending proposals.")
			return nil
		}
		for _, p := range list {
			fmt.Fprintf(out, "%s %s [%s] %s\n", color.YellowString(p.ID), p.Tool, p.AgentID, p.Description)
			fmt.Fprintf(out, "  expires in %s\n", time.Until(p.ExpiresAt).Round(time.Minute))
			if proposalsDiff && p.Diff != "" {
				fmt.Fprintln(out, p.Diff)
			}
		}
		return nil
	},
}

func proposalActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Orchestrator.ProposalAction(cmd.Context(), args[0], action, proposalsUser)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, res)
			}
			if !res.Success {
				return fmt.Errorf("%s", res.Error)
			}
			fmt.Fprintf(out, "%s proposal %s\n", color.GreenString("OK"), args[0])
			if res.Result != "" {
				fmt.Fprintln(out, res.Result)
			}
			return nil
		},
	}
}

var proposalsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired pending proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.Proposals.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d proposals\n", n)
		return nil
	},
}

func init() {
	proposalsListCmd.Flags().StringVar(&proposalsAgent, "agent", "", "Filter by agent id")
	proposalsListCmd.Flags().BoolVar(&proposalsDiff, "diff", false, "Show diffs")
	proposalsCmd.PersistentFlags().StringVar(&proposalsUser, "user", "cli", "Reviewer user id recorded in the audit log")

	proposalsCmd.AddCommand(
		proposalsListCmd,
		proposalActionCmd("approve", "Approve and apply a proposal"),
		proposalActionCmd("reject", "Reject a proposal"),
		proposalsPurgeCmd,
	)
	rootCmd.AddCommand(proposalsCmd)
}
