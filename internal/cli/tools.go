package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and toggle agent tools",
}

type toolRow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Write       bool   `json:"write"`
	Disabled    bool   `json:"disabled"`
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		disabled := a.Tools.Disabled(cmd.Context())
		var rows []toolRow
		for _, name := range a.Tools.Names() {
			t, _ := a.Tools.Get(name)
			rows = append(rows, toolRow{Name: name, Description: t.Description(), Write: tools.IsWrite(t), Disabled: disabled[name]})
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, rows)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tSTATE\tDESCRIPTION")
		for _, r := range rows {
			kind, state := "read", "enabled"
			if r.Write {
				kind = "write"
			}
			if r.Disabled {
				state = "disabled"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, kind, state, r.Description)
		}
		return tw.Flush()
	},
}

func toolToggleCmd(use, short string, disable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tool>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if _, ok := a.Tools.Get(args[0]); !ok {
				return fmt.Errorf("unknown tool: %s", args[0])
			}
			if err := a.Deny.SetDisabled(cmd.Context(), args[0], disable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tool %s %sd\n", args[0], use)
			return nil
		},
	}
}

func init() {
	toolsCmd.AddCommand(toolsListCmd, toolToggleCmd("disable", "Disable a tool for every agent", true),
		toolToggleCmd("enable", "Re-enable a disabled tool", false))
	rootCmd.AddCommand(toolsCmd)
}
