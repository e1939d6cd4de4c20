package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// ABI error names the account and orchestrator contracts revert with
const (
	AbiErrorKeyDoesNotExist    = "KeyDoesNotExist"
	AbiErrorUnauthorized       = "Unauthorized"
	AbiErrorUnauthorizedCall   = "UnauthorizedCall"
	AbiErrorExceededSpendLimit = "ExceededSpendLimit"
	AbiErrorKeyHashIsZero      = "KeyHashIsZero"
	AbiErrorInvalidNonce       = "InvalidNonce"
	AbiErrorPaymentError       = "PaymentError"
)

var knownAbiErrors = func() map[[4]byte]string {
	sigs := map[string]string{
		AbiErrorKeyDoesNotExist:    "KeyDoesNotExist()",
		AbiErrorUnauthorized:       "Unauthorized()",
		AbiErrorUnauthorizedCall:   "UnauthorizedCall(bytes32,address,bytes)",
		AbiErrorExceededSpendLimit: "ExceededSpendLimit(address)",
		AbiErrorKeyHashIsZero:      "KeyHashIsZero()",
		AbiErrorInvalidNonce:       "InvalidNonce()",
		AbiErrorPaymentError:       "PaymentError()",
	}
	out := make(map[[4]byte]string, len(sigs))
	for name, sig := range sigs {
		var sel [4]byte
		copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
		out[sel] = name
	}
	return out
}()

// ExecutionError is a JSON-RPC error returned by the relay
type ExecutionError struct {
	Method  string
	Code    int
	Message string
	// Data is the raw revert data, when the relay reported one
	Data hexutil.Bytes
	// AbiError is the decoded contract error name, if recognised
	AbiError string
}

func (e *ExecutionError) Error() string {
	if e.AbiError != "" {
		return fmt.Sprintf("relay %s failed (%d): %s [%s]", e.Method, e.Code, e.Message, e.AbiError)
	}
	return fmt.Sprintf("relay %s failed (%d): %s", e.Method, e.Code, e.Message)
}

// IsKeyDoesNotExist reports whether err is a relay execution error caused by a
// KeyDoesNotExist revert
func IsKeyDoesNotExist(err error) bool {
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		return false
	}
	return execErr.AbiError == AbiErrorKeyDoesNotExist
}

// classifyError turns a JSON-RPC error object into an ExecutionError. Transport failures
// are wrapped as-is.
func classifyError(method string, err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("relay %s: %w", method, err)
	}

	execErr := &ExecutionError{
		Method:  method,
		Code:    rpcErr.ErrorCode(),
		Message: rpcErr.Error(),
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		decodeErrorData(execErr, dataErr.ErrorData())
	}
	return execErr
}

// decodeErrorData fills AbiError and Data from the error's data member, which the relay
// sends either as revert hex or as an object carrying abiError/data fields.
func decodeErrorData(execErr *ExecutionError, data interface{}) {
	switch v := data.(type) {
	case string:
		if !strings.HasPrefix(v, "0x") {
			return
		}
		raw, err := hexutil.Decode(v)
		if err != nil {
			return
		}
		execErr.Data = raw
		if execErr.AbiError == "" && len(raw) >= 4 {
			var sel [4]byte
			copy(sel[:], raw[:4])
			execErr.AbiError = knownAbiErrors[sel]
		}
	case map[string]interface{}:
		if abiErr, ok := v["abiError"].(map[string]interface{}); ok {
			if name, ok := abiErr["name"].(string); ok {
				execErr.AbiError = name
			}
		}
		if nested, ok := v["data"]; ok {
			decodeErrorData(execErr, nested)
		}
	}
}
