package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/internal/crypto"
	"github.com/better-wallet/smart-account/internal/feetoken"
	"github.com/better-wallet/smart-account/internal/keyexec"
	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/precall"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/signer"
	"github.com/better-wallet/smart-account/internal/siwe"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// ImplementationReader reads the implementation an account proxy points at
type ImplementationReader interface {
	ImplementationOf(ctx context.Context, account common.Address) (common.Address, error)
}

// MerchantDialer opens a relay client for a merchant RPC URL that sponsors fees
type MerchantDialer func(ctx context.Context, url string) (relay.Client, error)

// Metrics records engine actions
type Metrics interface {
	ObserveAction(action string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAction(string, time.Duration, error) {}

// Session is caller-owned state carried between actions of one client. In mock mode
// CreateAccount remembers the new account here so the next LoadAccounts can resume it
// without credential discovery.
type Session struct {
	mu      sync.Mutex
	account *types.Account
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{}
}

func (s *Session) remember(account types.Account) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = &account
}

// take returns the remembered account once
func (s *Session) take() *types.Account {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.account
	s.account = nil
	return account
}

// AccountService implements the account authorization engine. It holds no per-account
// state: accounts are passed in and returned by value, and pending pre-calls live in the
// injected ledger.
type AccountService struct {
	relay     relay.Client
	signer    signer.Signer
	ledger    precall.Ledger
	feeTokens *feetoken.Resolver
	keys      keyexec.KeyExecutor

	chainID         uint64
	mockMode        bool
	implementations ImplementationReader
	merchant        MerchantDialer
	metrics         Metrics
	now             func() time.Time
	pollInterval    time.Duration
	waitTimeout     time.Duration
	defaultFeeToken string
	siweDomain      string
	siweURI         string
}

// Option configures an AccountService
type Option func(*AccountService)

// WithChainID sets the chain the service operates on
func WithChainID(chainID uint64) Option {
	return func(s *AccountService) { s.chainID = chainID }
}

// WithMockMode substitutes headless admin keys for platform WebAuthn credentials
func WithMockMode(enabled bool) Option {
	return func(s *AccountService) { s.mockMode = enabled }
}

// WithImplementationReader lets UpdateAccount skip accounts already on the latest implementation
func WithImplementationReader(r ImplementationReader) Option {
	return func(s *AccountService) { s.implementations = r }
}

// WithConfirmation sets the bundle status poll interval and overall wait timeout
func WithConfirmation(interval, timeout time.Duration) Option {
	return func(s *AccountService) {
		s.pollInterval = interval
		s.waitTimeout = timeout
	}
}

// WithMetrics sets the action metrics collector
func WithMetrics(m Metrics) Option {
	return func(s *AccountService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *AccountService) { s.now = now }
}

// WithMerchantDialer enables merchant-sponsored preparation
func WithMerchantDialer(d MerchantDialer) Option {
	return func(s *AccountService) { s.merchant = d }
}

// WithDefaultFeeToken sets the fee token used when a caller names none
func WithDefaultFeeToken(addressOrSymbol string) Option {
	return func(s *AccountService) { s.defaultFeeToken = addressOrSymbol }
}

// WithSIWEDefaults sets the domain and URI of sign-in messages that do not carry their own
func WithSIWEDefaults(domain, uri string) Option {
	return func(s *AccountService) {
		s.siweDomain = domain
		s.siweURI = uri
	}
}

// NewAccountService creates the engine. ledger decides who owns pre-call persistence:
// pass precall.Discard when the caller stores returned pre-calls itself.
func NewAccountService(
	relayClient relay.Client,
	sig signer.Signer,
	ledger precall.Ledger,
	feeTokens *feetoken.Resolver,
	keys keyexec.KeyExecutor,
	opts ...Option,
) *AccountService {
	s := &AccountService{
		relay:        relayClient,
		signer:       sig,
		ledger:       ledger,
		feeTokens:    feeTokens,
		keys:         keys,
		metrics:      noopMetrics{},
		now:          time.Now,
		pollInterval: relay.DefaultPollInterval,
		waitTimeout:  relay.DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = precall.Discard
	}
	return s
}

// ChainID returns the chain the service operates on
func (s *AccountService) ChainID() uint64 {
	return s.chainID
}

func (s *AccountService) observe(action string, start time.Time, err error) {
	s.metrics.ObserveAction(action, s.now().Sub(start), err)
}

func (s *AccountService) unixNow() uint64 {
	return uint64(s.now().Unix())
}

func (s *AccountService) resolveOptions(permissionsID *common.Hash) permissions.ResolveOptions {
	return permissions.ResolveOptions{
		PermissionsID: permissionsID,
		CanSign:       s.signer.CanSign,
		Now:           s.unixNow(),
	}
}

// adminKey returns the first admin key the service can sign with
func (s *AccountService) adminKey(account *types.Account) (types.Key, error) {
	key, ok := permissions.ResolveAdminKey(account.Keys, s.resolveOptions(nil))
	if !ok {
		return types.Key{}, apperrors.ErrNoAdminKey
	}
	return key, nil
}

// localAdminKey returns the first admin key holding local signing material
func (s *AccountService) localAdminKey(account *types.Account) (types.Key, error) {
	opts := s.resolveOptions(nil)
	opts.CanSign = func(k types.Key) bool { return k.HasLocalMaterial() && s.signer.CanSign(k) }
	key, ok := permissions.ResolveAdminKey(account.Keys, opts)
	if !ok {
		return types.Key{}, apperrors.ErrNoAdminKey
	}
	return key, nil
}

func (s *AccountService) capabilities(ctx context.Context) (*relay.Capabilities, error) {
	caps, err := s.relay.GetCapabilities(ctx, []uint64{s.chainID})
	if err != nil {
		return nil, err
	}
	c, ok := caps[s.chainID]
	if !ok || c == nil {
		return nil, fmt.Errorf("relay returned no capabilities for chain %d", s.chainID)
	}
	return c, nil
}

func (s *AccountService) feeTokenPreference(feeToken string) string {
	if feeToken == "" {
		return s.defaultFeeToken
	}
	return feeToken
}

func (s *AccountService) resolveFeeToken(ctx context.Context, feeToken string) (*types.FeeToken, error) {
	return s.feeTokens.Resolve(ctx, s.chainID, s.feeTokenPreference(feeToken))
}

// generateLocalKey creates a key whose signing material is held by the key executor
func (s *AccountService) generateLocalKey(ctx context.Context, keyType types.KeyType) (types.Key, *keyexec.GeneratedKey, error) {
	curve := crypto.CurveP256
	if keyType == types.KeyTypeSecp256k1 || keyType == types.KeyTypeAddress {
		curve = crypto.CurveSecp256k1
	}

	generated, err := s.keys.GenerateKey(ctx, curve)
	if err != nil {
		return types.Key{}, nil, fmt.Errorf("failed to generate %s key: %w", keyType, err)
	}

	var key types.Key
	switch keyType {
	case types.KeyTypeAddress:
		key = types.NewAddressKey(generated.Address)
	case types.KeyTypeSecp256k1:
		key = types.NewSecp256k1Key(generated.PublicKey)
	case types.KeyTypeP256:
		key = types.NewP256Key(generated.PublicKey)
		key.Prehash = true
	case types.KeyTypeWebAuthnP256:
		key = types.NewWebAuthnP256Key(generated.PublicKey, common.Bytes2Hex(generated.PublicKey[:16]), s.siweDomain)
	default:
		return types.Key{}, nil, fmt.Errorf("unsupported key type: %q", keyType)
	}
	key.Local = generated.Material
	return key, generated, nil
}

// sessionKeyGenerator supplies fresh session keys to the permission compiler
func (s *AccountService) sessionKeyGenerator(ctx context.Context) (types.Key, error) {
	key, _, err := s.generateLocalKey(ctx, types.KeyTypeP256)
	return key, err
}

// compileSessionKey turns a permissions request into a session key against the chain's fee tokens
func (s *AccountService) compileSessionKey(ctx context.Context, req *permissions.Request, feeToken string) (*types.Key, error) {
	if req == nil {
		return nil, nil
	}
	tokens, err := s.feeTokens.Fetch(ctx, s.chainID, s.feeTokenPreference(feeToken))
	if err != nil {
		return nil, err
	}
	return permissions.ToKey(ctx, req, permissions.Options{
		FeeTokens: tokens,
		Generate:  s.sessionKeyGenerator,
	})
}

// newAdminKey creates the WebAuthn admin key for a new account. Mock mode substitutes a
// headless key whose material is held locally.
func (s *AccountService) newAdminKey(ctx context.Context, address common.Address, label string) (types.Key, error) {
	if s.mockMode {
		key, _, err := s.generateLocalKey(ctx, types.KeyTypeWebAuthnP256)
		if err != nil {
			return types.Key{}, err
		}
		key.Role = types.RoleAdmin
		return key, nil
	}
	return s.signer.CreateCredential(ctx, address, label)
}

// siweMessage builds a sign-in message for address, filling service defaults
func (s *AccountService) siweMessage(address common.Address, params siwe.Params) *siwe.Message {
	if params.Domain == "" {
		params.Domain = s.siweDomain
	}
	if params.URI == "" {
		params.URI = s.siweURI
	}
	if params.ChainID == 0 {
		params.ChainID = s.chainID
	}
	return siwe.New(address, params, s.now())
}

// wait polls the relay until the bundle settles
func (s *AccountService) wait(ctx context.Context, id string) (*types.CallsStatus, error) {
	return relay.WaitForCallsStatus(ctx, s.relay, id, s.pollInterval, s.waitTimeout)
}
