package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/pkg/types"
)

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Grant and revoke session keys",
	}
	cmd.AddCommand(permissionsGrantCmd(), revokeCmd("permissions"))
	return cmd
}

func adminsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Add and revoke admin keys",
	}
	cmd.AddCommand(adminsAddCmd(), revokeCmd("admins"))
	return cmd
}

// sessionRequest builds a permissions request from flag values
func sessionRequest(targets []string, expiresIn time.Duration, spendLimit, period, token string, now time.Time) (*permissions.Request, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one --to is required")
	}

	req := &permissions.Request{Expiry: uint64(now.Add(expiresIn).Unix())}
	for _, t := range targets {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("invalid target address: %s", t)
		}
		to := common.HexToAddress(t)
		req.Permissions.Calls = append(req.Permissions.Calls, types.CallPermission{To: &to})
	}

	if spendLimit != "" {
		spend := permissions.SpendRequest{Limit: spendLimit, Period: types.SpendPeriod(period)}
		if token != "" {
			if !common.IsHexAddress(token) {
				return nil, fmt.Errorf("invalid token address: %s", token)
			}
			addr := common.HexToAddress(token)
			spend.Token = &addr
		}
		req.Permissions.Spend = append(req.Permissions.Spend, spend)
	}
	return req, nil
}

func permissionsGrantCmd() *cobra.Command {
	var (
		targets    []string
		expiresIn  time.Duration
		spendLimit string
		period     string
		token      string
		feeToken   string
	)

	cmd := &cobra.Command{
		Use:   "grant <address>",
		Short: "Queue a session key scoped to the given targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := sessionRequest(targets, expiresIn, spendLimit, period, token, time.Now())
			if err != nil {
				return err
			}

			body := struct {
				*permissions.Request
				FeeToken string `json:"feeToken,omitempty"`
			}{req, feeToken}

			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], "/permissions"), body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringArrayVar(&targets, "to", nil, "contract the key may call (repeatable)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "key lifetime")
	cmd.Flags().StringVar(&spendLimit, "spend", "", "spend limit as a hex quantity, e.g. 0x64")
	cmd.Flags().StringVar(&period, "period", string(types.PeriodDay), "spend limit period")
	cmd.Flags().StringVar(&token, "token", "", "token the spend limit applies to (default: the fee token)")
	cmd.Flags().StringVar(&feeToken, "fee-token", "", "fee token address or symbol")
	return cmd
}

func adminsAddCmd() *cobra.Command {
	var (
		keyType   string
		publicKey string
		feeToken  string
	)

	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Authorize an externally held admin key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := hexutil.Decode(publicKey)
			if err != nil {
				return fmt.Errorf("invalid --public-key: %w", err)
			}
			key, err := types.NewKey(types.KeyType(keyType), pub, "")
			if err != nil {
				return err
			}
			key.Role = types.RoleAdmin

			body := map[string]any{"key": key}
			if feeToken != "" {
				body["feeToken"] = feeToken
			}

			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodPost, accountPath(args[0], "/admins"), body, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&keyType, "type", string(types.KeyTypeSecp256k1), "key type: address, secp256k1 or p256")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "hex encoded public key")
	cmd.Flags().StringVar(&feeToken, "fee-token", "", "fee token address or symbol")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func revokeCmd(kind string) *cobra.Command {
	var feeToken string

	cmd := &cobra.Command{
		Use:   "revoke <address> <key-id>",
		Short: "Revoke a key on-chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := accountPath(args[0], "/"+kind+"/"+args[1])
			if feeToken != "" {
				path += "?feeToken=" + feeToken
			}
			var out json.RawMessage
			if err := client.Do(cmd.Context(), http.MethodDelete, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&feeToken, "fee-token", "", "fee token address or symbol")
	return cmd
}
