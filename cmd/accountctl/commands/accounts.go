package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Create and inspect accounts",
	}
	cmd.AddCommand(accountsCreateCmd(), accountsListCmd(), accountsGetCmd(), accountsForgetCmd())
	return cmd
}

func accountsCreateCmd() *cobra.Command {
	var (
		label     string
		email     string
		feeToken  string
		statement string
		signIn    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new account with a headless admin key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if label != "" {
				body["label"] = label
			}
			if email != "" {
				body["email"] = email
			}
			if feeToken != "" {
				body["feeToken"] = feeToken
			}
			if signIn || statement != "" {
				body["signInWithEthereum"] = map[string]string{"statement": statement}
			}

			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, "/v1/accounts", body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "label for the admin credential")
	cmd.Flags().StringVar(&email, "email", "", "email to register with the relay (requires --label)")
	cmd.Flags().StringVar(&feeToken, "fee-token", "", "fee token address or symbol")
	cmd.Flags().BoolVar(&signIn, "siwe", false, "also sign a sign-in message")
	cmd.Flags().StringVar(&statement, "statement", "", "sign-in statement (implies --siwe)")
	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hosted accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodGet, "/v1/accounts", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func accountsGetCmd() *cobra.Command {
	var signIn bool

	cmd := &cobra.Command{
		Use:   "get <address>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := accountPath(args[0], "")
			if signIn {
				path += "?siwe=true"
			}
			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().BoolVar(&signIn, "siwe", false, "sign a sign-in message with the admin key")
	return cmd
}

func accountsForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <address>",
		Short: "Stop hosting an account and drop its local keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Do(cmd.Context(), http.MethodDelete, accountPath(args[0], ""), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "forgotten")
			return nil
		},
	}
}
