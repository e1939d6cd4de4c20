package feetoken

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/pkg/types"
)

// DefaultTTL is how long a chain's fee tokens are reused before refetching
const DefaultTTL = 60 * time.Second

// CapabilitiesFetcher is the part of the relay client the resolver needs
type CapabilitiesFetcher interface {
	GetCapabilities(ctx context.Context, chainIDs []uint64) (map[uint64]*relay.Capabilities, error)
}

// maxCachedChains bounds the cache; the relay serves a handful of chains
const maxCachedChains = 64

// Resolver fetches and caches the fee tokens the relay accepts per chain
type Resolver struct {
	relay CapabilitiesFetcher
	ttl   time.Duration
	cache *expirable.LRU[uint64, []types.FeeToken]
}

// Option configures a Resolver
type Option func(*Resolver)

// WithTTL sets the cache lifetime. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// NewResolver creates a resolver over the relay's capabilities
func NewResolver(fetcher CapabilitiesFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		relay: fetcher,
		ttl:   DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ttl > 0 {
		r.cache = expirable.NewLRU[uint64, []types.FeeToken](maxCachedChains, nil, r.ttl)
	}
	return r
}

// Fetch returns the chain's fee tokens with the preferred token first when it
// resolves. Otherwise the relay's ordering is kept.
func (r *Resolver) Fetch(ctx context.Context, chainID uint64, addressOrSymbol string) ([]types.FeeToken, error) {
	tokens, err := r.tokens(ctx, chainID)
	if err != nil {
		return nil, err
	}

	out := make([]types.FeeToken, 0, len(tokens))
	preferred := -1
	for i, t := range tokens {
		if preferred < 0 && t.Matches(addressOrSymbol) {
			preferred = i
			out = append(out, t)
		}
	}
	for i, t := range tokens {
		if i != preferred {
			out = append(out, t)
		}
	}
	return out, nil
}

// Resolve returns the token Fetch would put first
func (r *Resolver) Resolve(ctx context.Context, chainID uint64, addressOrSymbol string) (*types.FeeToken, error) {
	tokens, err := r.Fetch(ctx, chainID, addressOrSymbol)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("relay offers no fee tokens on chain %d", chainID)
	}
	return &tokens[0], nil
}

// Invalidate drops the cached tokens for a chain
func (r *Resolver) Invalidate(chainID uint64) {
	if r.cache != nil {
		r.cache.Remove(chainID)
	}
}

func (r *Resolver) tokens(ctx context.Context, chainID uint64) ([]types.FeeToken, error) {
	if r.cache != nil {
		if tokens, ok := r.cache.Get(chainID); ok {
			return tokens, nil
		}
	}

	caps, err := r.relay.GetCapabilities(ctx, []uint64{chainID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fee tokens: %w", err)
	}
	c, ok := caps[chainID]
	if !ok || c == nil {
		return nil, fmt.Errorf("relay returned no capabilities for chain %d", chainID)
	}

	tokens := append([]types.FeeToken(nil), c.Fees.Tokens...)
	if r.cache != nil {
		r.cache.Add(chainID, tokens)
	}
	return tokens, nil
}
