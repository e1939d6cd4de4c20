package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/pkg/types"
)

// MetricsCollector records relay round trips
type MetricsCollector interface {
	ObserveRelayCall(method string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRelayCall(string, time.Duration, error) {}

// Option configures an RPCClient
type Option func(*RPCClient)

// WithMetrics sets the collector for relay round trips
func WithMetrics(m MetricsCollector) Option {
	return func(c *RPCClient) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithHeader sets an HTTP header sent with every request
func WithHeader(key, value string) Option {
	return func(c *RPCClient) {
		c.rpc.SetHeader(key, value)
	}
}

// RPCClient talks to the relay over JSON-RPC
type RPCClient struct {
	rpc     *rpc.Client
	metrics MetricsCollector
}

// Dial connects to the relay at url
func Dial(ctx context.Context, url string, opts ...Option) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	return NewRPCClient(c, opts...), nil
}

// NewRPCClient wraps an existing rpc client
func NewRPCClient(c *rpc.Client, opts ...Option) *RPCClient {
	client := &RPCClient{rpc: c, metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Close closes the underlying connection
func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	elapsed := time.Since(start)
	c.metrics.ObserveRelayCall(method, elapsed, err)

	log := logger.FromContext(ctx)
	if err != nil {
		err = classifyError(method, err)
		log.Debug("relay call failed", "method", method, "duration", elapsed, "error", err)
		return err
	}
	log.Debug("relay call", "method", method, "duration", elapsed)
	return nil
}

// GetCapabilities returns the relay capabilities for each chain
func (c *RPCClient) GetCapabilities(ctx context.Context, chainIDs []uint64) (map[uint64]*Capabilities, error) {
	ids := make([]hexutil.Uint64, len(chainIDs))
	for i, id := range chainIDs {
		ids[i] = hexutil.Uint64(id)
	}

	var raw map[string]*Capabilities
	if err := c.call(ctx, &raw, "wallet_getCapabilities", ids); err != nil {
		return nil, err
	}

	out := make(map[uint64]*Capabilities, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in capabilities: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

// PrepareCalls asks the relay to prepare an intent
func (c *RPCClient) PrepareCalls(ctx context.Context, params *PrepareCallsParams) (*PrepareCallsResponse, error) {
	var resp PrepareCallsResponse
	if err := c.call(ctx, &resp, "wallet_prepareCalls", params); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendPreparedCalls submits a signed intent and returns the bundle id
func (c *RPCClient) SendPreparedCalls(ctx context.Context, params *SendPreparedCallsParams) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, &resp, "wallet_sendPreparedCalls", params); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetCallsStatus returns the status of a bundle
func (c *RPCClient) GetCallsStatus(ctx context.Context, id string) (*types.CallsStatus, error) {
	var status types.CallsStatus
	if err := c.call(ctx, &status, "wallet_getCallsStatus", id); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetKeys returns the keys authorized on-chain for address
func (c *RPCClient) GetKeys(ctx context.Context, address common.Address, chainID uint64) ([]types.Key, error) {
	params := struct {
		Address common.Address `json:"address"`
		ChainID hexutil.Uint64 `json:"chainId"`
	}{address, hexutil.Uint64(chainID)}

	var entries []KeyEntry
	if err := c.call(ctx, &entries, "wallet_getKeys", params); err != nil {
		return nil, err
	}

	keys := make([]types.Key, 0, len(entries))
	for _, entry := range entries {
		key, err := DecodeKey(entry.Key, entry.Permissions...)
		if err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", entry.Hash.Hex(), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PrepareUpgradeAccount prepares the delegation of an EOA
func (c *RPCClient) PrepareUpgradeAccount(ctx context.Context, params *PrepareUpgradeAccountParams) (*PrepareUpgradeAccountResponse, error) {
	var resp PrepareUpgradeAccountResponse
	if err := c.call(ctx, &resp, "wallet_prepareUpgradeAccount", params); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpgradeAccount submits the signed delegation
func (c *RPCClient) UpgradeAccount(ctx context.Context, params *UpgradeAccountParams) error {
	return c.call(ctx, nil, "wallet_upgradeAccount", params)
}

// SetEmail registers an email for the wallet
func (c *RPCClient) SetEmail(ctx context.Context, email string, wallet common.Address) error {
	params := struct {
		Email         string         `json:"email"`
		WalletAddress common.Address `json:"walletAddress"`
	}{email, wallet}
	return c.call(ctx, nil, "account_setEmail", params)
}

// VerifyEmail confirms an email with a signed token
func (c *RPCClient) VerifyEmail(ctx context.Context, params *VerifyEmailParams) error {
	return c.call(ctx, nil, "account_verifyEmail", params)
}

var _ Client = (*RPCClient)(nil)
