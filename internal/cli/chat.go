package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/orchestrator"
	"github.com/KafClaw/siteagent/internal/security"
)

var (
	chatAgent string
	chatUser  string
	chatRole  string
	chatAsync bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to an agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		agentID := chatAgent
		if agentID == "" {
			if agents := a.Runtime.Current().Agents; len(agents) > 0 {
				agentID = agents[0].ID
			}
		}
		req := orchestrator.ChatRequest{
			AgentID:   agentID,
			Message:   strings.Join(args, " "),
			Requester: security.Requester{UserID: chatUser, Role: chatRole, IP: "cli"},
		}
		out := cmd.OutOrStdout()
		if chatAsync {
			id, err := a.Orchestrator.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Queued job %s (check with: siteagent jobs status %s)\n", id, id)
			return nil
		}

		res, err := a.Orchestrator.Chat(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		if res.Failed() {
			return fmt.Errorf("%s: %s", res.Code, res.Error)
		}
		fmt.Fprintln(out, res.Response)
		for _, p := range res.Proposals {
			fmt.Fprintf(out, "\n%s %s %s\n", color.YellowString("Proposal"), p.ID, p.Description)
			if p.Diff != "" {
				fmt.Fprintln(out, p.Diff)
			}
			fmt.Fprintf(out, "Approve with: siteagent proposals approve %s\n", p.ID)
		}
		if len(res.PIIWarning) > 0 {
			fmt.Fprintln(out, color.YellowString("Warning: message contained %s", strings.Join(res.PIIWarning, ", ")))
		}
		meta := fmt.Sprintf("tokens=%d cost=$%.4f duration=%dms", res.TokensUsed, res.Cost, res.DurationMS)
		if res.Cached {
			meta += " cached"
		}
		fmt.Fprintln(out, color.HiBlackString(meta))
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatAgent, "agent", "a", "", "Agent id (default: first configured agent)")
	chatCmd.Flags().StringVar(&chatUser, "user", "cli", "Requester user id (empty for anonymous)")
	chatCmd.Flags().StringVar(&chatRole, "role", "administrator", "Requester role")
	chatCmd.Flags().BoolVar(&chatAsync, "async", false, "Queue the message as a background job")
	rootCmd.AddCommand(chatCmd)
}
