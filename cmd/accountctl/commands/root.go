package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/better-wallet/smart-account/internal/middleware"
)

var (
	serverURL string
	apiKey    string
	client    *Client
)

// Execute runs the accountctl command tree
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "accountctl",
		Short:        "Manage smart accounts through the account server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("ACCOUNTCTL_API_KEY")
			}
			client = NewClient(serverURL, apiKey)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "account server base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $ACCOUNTCTL_API_KEY)")

	root.AddCommand(
		accountsCmd(),
		permissionsCmd(),
		adminsCmd(),
		callsCmd(),
		updateCmd(),
		signCmd(),
		preCallsCmd(),
		hashAPIKeyCmd(),
	)
	return root
}

// hashAPIKeyCmd prints the API_KEY_HASH value the server expects for a key
func hashAPIKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-api-key <key>",
		Short: "Print the bcrypt hash to configure as API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// printJSON writes v indented to the command's output
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func accountPath(address, suffix string) string {
	return "/v1/accounts/" + address + suffix
}
