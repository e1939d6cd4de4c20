package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/better-wallet/smart-account/internal/validation"
	"github.com/better-wallet/smart-account/pkg/types"
)

// parseCall builds a single call from flag values
func parseCall(to, data, value string) (types.Call, error) {
	addr, err := validation.ParseAddress(to)
	if err != nil {
		return types.Call{}, fmt.Errorf("--to: %w", err)
	}
	call := types.Call{To: addr}

	if data != "" {
		raw, err := hexutil.Decode(data)
		if err != nil {
			return types.Call{}, fmt.Errorf("invalid --data: %w", err)
		}
		call.Data = raw
	}
	if value != "" {
		v, err := hexutil.DecodeBig(value)
		if err != nil {
			return types.Call{}, fmt.Errorf("invalid --value: %w", err)
		}
		call.Value = (*hexutil.Big)(v)
	}
	return call, nil
}

func callsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Prepare and send call bundles",
	}
	cmd.AddCommand(callsSendCmd(false), callsSendCmd(true))
	return cmd
}

func callsSendCmd(prepareOnly bool) *cobra.Command {
	var (
		to       string
		data     string
		value    string
		feeToken string
		wait     bool
	)

	use, short, suffix := "send <address>", "Sign and send a call", "/calls"
	if prepareOnly {
		use, short, suffix = "prepare <address>", "Show the digest and quote for a call", "/calls/prepare"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := parseCall(to, data, value)
			if err != nil {
				return err
			}

			body := map[string]any{"calls": []types.Call{call}}
			if feeToken != "" {
				body["feeToken"] = feeToken
			}
			if wait && !prepareOnly {
				body["waitForReceipt"] = true
			}

			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], suffix), body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "call target")
	cmd.Flags().StringVar(&data, "data", "", "hex calldata")
	cmd.Flags().StringVar(&value, "value", "", "hex wei value")
	cmd.Flags().StringVar(&feeToken, "fee-token", "", "fee token address or symbol")
	if !prepareOnly {
		cmd.Flags().BoolVar(&wait, "wait", false, "wait for the bundle to confirm")
	}
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <address>",
		Short: "Point the account at the latest implementation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], "/update"), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign messages with the account's admin key",
	}

	personal := &cobra.Command{
		Use:   "personal <address> <message>",
		Short: "Sign an EIP-191 personal message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			body := map[string]string{"message": args[1]}
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], "/sign/personal"), body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	typedData := &cobra.Command{
		Use:   "typed-data <address> <file|->",
		Short: "Sign EIP-712 typed data read from a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("%s is not valid JSON", args[1])
			}

			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], "/sign/typed-data"), json.RawMessage(raw), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.AddCommand(personal, typedData)
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func preCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "precalls",
		Short: "Inspect queued pre-call authorizations",
	}

	list := &cobra.Command{
		Use:   "list <address>",
		Short: "List pending pre-calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodGet, accountPath(args[0], "/precalls"), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <address>",
		Short: "Drop pending pre-calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Do(cmd.Context(), http.MethodDelete, accountPath(args[0], "/precalls"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}
