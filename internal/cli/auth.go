package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/provider/credentials"
)

var authProvider string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider API keys in the OS keyring",
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key [key]",
	Short: "Store a provider API key (reads stdin when no key is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		providerID, err := authProviderID()
		if err != nil {
			return err
		}
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "API key for %s: ", providerID)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read API key: %w", err)
			}
			key = strings.TrimSpace(line)
		}
		if err := credentials.SaveAPIKey(providerID, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored API key for %s\n", providerID)
		return nil
	},
}

var authDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key",
	Short: "Remove a stored provider API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		providerID, err := authProviderID()
		if err != nil {
			return err
		}
		if err := credentials.DeleteAPIKey(providerID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key for %s\n", providerID)
		return nil
	},
}

// authProviderID prefers --provider, then the configured provider.
func authProviderID() (string, error) {
	if authProvider != "" {
		return authProvider, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Provider.Name, nil
}

func init() {
	authCmd.PersistentFlags().StringVar(&authProvider, "provider", "", "Provider id (default: configured provider)")
	authCmd.AddCommand(authSetKeyCmd, authDeleteKeyCmd)
	rootCmd.AddCommand(authCmd)
}
