package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ImplementationSlot is the EIP-1967 storage slot holding a proxy's implementation
var ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// Client wraps an Ethereum RPC client for the reads the account engine needs
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient dials rpcURL and auto-detects the chain ID
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	c, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewClientFromRPC(ctx, c)
}

// NewClientFromRPC wraps an existing rpc client
func NewClientFromRPC(ctx context.Context, c *rpc.Client) (*Client, error) {
	client := ethclient.NewClient(c)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		client:  client,
		chainID: chainID,
	}, nil
}

// ChainID returns the chain ID
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// ImplementationOf reads the implementation the account's proxy currently points at.
// Delegated accounts run the proxy in their own context, so the slot lives in the
// account's storage.
func (c *Client) ImplementationOf(ctx context.Context, account common.Address) (common.Address, error) {
	value, err := c.client.StorageAt(ctx, account, ImplementationSlot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read implementation slot: %w", err)
	}
	return common.BytesToAddress(value), nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}
