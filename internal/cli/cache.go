package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheAgent string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		var n int
		if cacheAgent != "" {
			n, err = a.Cache.InvalidateAgent(cmd.Context(), cacheAgent)
		} else {
			n, err = a.Cache.ClearAll(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached responses\n", n)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().StringVar(&cacheAgent, "agent", "", "Only clear this agent's entries")
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
