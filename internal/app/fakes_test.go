package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/smart-account/internal/feetoken"
	"github.com/better-wallet/smart-account/internal/keyexec"
	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/precall"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/signer"
	"github.com/better-wallet/smart-account/pkg/types"
)

const testChainID = 84532

var (
	accountProxy   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	implementation = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	orchestrator   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	expToken       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	target         = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	otherTarget    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// fakeRelay is an in-memory relay. It tracks the on-chain keys of every account, applies
// pre-calls and key changes when a bundle confirms, and accepts each context once.
type fakeRelay struct {
	mu sync.Mutex

	caps *relay.Capabilities
	now  func() time.Time
	// quoteTTL attaches a quote expiring after this long to every non-pre-call intent
	quoteTTL time.Duration
	// status is the final status of submitted bundles
	status int
	// pendingPolls is the number of pending answers before the final status; negative never settles
	pendingPolls int

	nextID   int
	onchain  map[common.Address][]types.Key
	intents  map[string]*relay.PrepareCallsParams
	upgrades map[string]*relay.PrepareUpgradeAccountParams
	sent     map[string]bool
	statuses map[string]*types.CallsStatus
	polls    map[string]int

	rpcs      int
	prepared  []*relay.PrepareCallsParams
	submitted []submission
	emails    map[common.Address]string
	verified  []*relay.VerifyEmailParams
}

type submission struct {
	BundleID  string
	Intent    *relay.PrepareCallsParams
	Key       types.Descriptor
	Signature []byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		caps: &relay.Capabilities{
			Contracts: relay.Contracts{
				AccountImplementation: relay.VersionedContract{Address: implementation},
				AccountProxy:          relay.VersionedContract{Address: accountProxy},
				Orchestrator:          relay.VersionedContract{Address: orchestrator},
			},
			Fees: relay.Fees{Tokens: []types.FeeToken{
				{Address: expToken, Symbol: "EXP", Decimals: 18, Kind: types.FeeTokenKindERC20},
				{Address: common.Address{}, Symbol: "ETH", Decimals: 18, Kind: types.FeeTokenKindNative},
			}},
		},
		now:      time.Now,
		status:   types.CallsStatusConfirmed,
		onchain:  make(map[common.Address][]types.Key),
		intents:  make(map[string]*relay.PrepareCallsParams),
		upgrades: make(map[string]*relay.PrepareUpgradeAccountParams),
		sent:     make(map[string]bool),
		statuses: make(map[string]*types.CallsStatus),
		polls:    make(map[string]int),
		emails:   make(map[common.Address]string),
	}
}

func (f *fakeRelay) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func contextID(raw json.RawMessage) (string, error) {
	var ctx struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return "", err
	}
	return ctx.ID, nil
}

func execError(method, abiError string) error {
	return &relay.ExecutionError{Method: method, Code: 3, Message: "execution reverted", AbiError: abiError}
}

func (f *fakeRelay) GetCapabilities(ctx context.Context, chainIDs []uint64) (map[uint64]*relay.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	out := make(map[uint64]*relay.Capabilities)
	for _, id := range chainIDs {
		if id == testChainID {
			out[id] = f.caps
		}
	}
	return out, nil
}

func (f *fakeRelay) PrepareCalls(ctx context.Context, params *relay.PrepareCallsParams) (*relay.PrepareCallsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	id := f.id("ctx")
	intent := *params
	f.intents[id] = &intent
	f.prepared = append(f.prepared, &intent)

	payload := map[string]interface{}{"id": id}
	if params.Capabilities.PreCall {
		payload["preCall"] = true
	} else if f.quoteTTL > 0 {
		payload["quote"] = types.SignedQuote{
			Quote: types.Quote{
				ChainID:      params.ChainID,
				TTL:          uint64(f.now().Add(f.quoteTTL).Unix()),
				Orchestrator: orchestrator,
			},
			Hash: ethcrypto.Keccak256Hash([]byte(id)),
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &relay.PrepareCallsResponse{
		Context: raw,
		Digest:  ethcrypto.Keccak256([]byte(id)),
		Key:     params.Key,
	}, nil
}

func (f *fakeRelay) SendPreparedCalls(ctx context.Context, params *relay.SendPreparedCallsParams) (string, error) {
	const method = "wallet_sendPreparedCalls"
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	id, err := contextID(params.Context)
	if err != nil {
		return "", err
	}
	intent, ok := f.intents[id]
	if !ok || intent.Capabilities.PreCall || intent.From == nil {
		return "", &relay.ExecutionError{Method: method, Code: -32602, Message: "unknown context"}
	}
	if f.sent[id] {
		return "", execError(method, relay.AbiErrorInvalidNonce)
	}
	if len(params.Signature) == 0 {
		return "", execError(method, relay.AbiErrorUnauthorized)
	}

	account := *intent.From
	keys := append([]types.Key(nil), f.onchain[account]...)
	for _, pc := range intent.Capabilities.PreCalls {
		pcID, err := contextID(pc.Context)
		if err != nil {
			return "", err
		}
		inner, ok := f.intents[pcID]
		if !ok || !inner.Capabilities.PreCall || len(pc.Signature) == 0 {
			return "", execError(method, relay.AbiErrorUnauthorized)
		}
		if keys, err = applyKeyChanges(method, keys, inner.Capabilities); err != nil {
			return "", err
		}
	}
	if !hasKey(keys, params.Key) {
		return "", execError(method, relay.AbiErrorUnauthorized)
	}
	if keys, err = applyKeyChanges(method, keys, intent.Capabilities); err != nil {
		return "", err
	}

	f.sent[id] = true
	bundleID := f.id("bundle")
	status := &types.CallsStatus{
		ID:     bundleID,
		Status: f.status,
		Receipts: []types.Receipt{{
			TransactionHash: ethcrypto.Keccak256Hash([]byte(bundleID)),
			Status:          1,
		}},
	}
	if status.Confirmed() {
		f.onchain[account] = keys
	}
	f.statuses[bundleID] = status
	f.submitted = append(f.submitted, submission{
		BundleID:  bundleID,
		Intent:    intent,
		Key:       params.Key,
		Signature: params.Signature,
	})
	return bundleID, nil
}

func applyKeyChanges(method string, keys []types.Key, caps relay.PrepareCallsCapabilities) ([]types.Key, error) {
	out := append([]types.Key(nil), keys...)
	for _, ak := range caps.AuthorizeKeys {
		key, err := relay.DecodeKey(ak)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i := range out {
			if out[i].ID() == key.ID() {
				out[i] = key
				replaced = true
			}
		}
		if !replaced {
			out = append(out, key)
		}
	}
	for _, rk := range caps.RevokeKeys {
		idx := -1
		for i := range out {
			if out[i].ID() == rk.Hash {
				idx = i
			}
		}
		if idx < 0 {
			return nil, execError(method, relay.AbiErrorKeyDoesNotExist)
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, nil
}

func hasKey(keys []types.Key, d types.Descriptor) bool {
	for _, k := range keys {
		if k.Type() == d.Type && bytes.Equal(k.PublicKey(), d.PublicKey) {
			return true
		}
	}
	return false
}

func (f *fakeRelay) GetCallsStatus(ctx context.Context, id string) (*types.CallsStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	status, ok := f.statuses[id]
	if !ok {
		return nil, &relay.ExecutionError{Method: "wallet_getCallsStatus", Code: -32602, Message: "unknown bundle"}
	}
	f.polls[id]++
	if f.pendingPolls < 0 || f.polls[id] <= f.pendingPolls {
		return &types.CallsStatus{ID: id, Status: types.CallsStatusPending}, nil
	}
	out := *status
	return &out, nil
}

func (f *fakeRelay) GetKeys(ctx context.Context, address common.Address, chainID uint64) ([]types.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++
	return append([]types.Key(nil), f.onchain[address]...), nil
}

func (f *fakeRelay) PrepareUpgradeAccount(ctx context.Context, params *relay.PrepareUpgradeAccountParams) (*relay.PrepareUpgradeAccountResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	id := f.id("upgrade")
	f.upgrades[id] = params
	raw, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	return &relay.PrepareUpgradeAccountResponse{
		Context: raw,
		Digests: relay.UpgradeDigests{
			Auth: ethcrypto.Keccak256Hash([]byte(id + "/auth")),
			Exec: ethcrypto.Keccak256Hash([]byte(id + "/exec")),
		},
	}, nil
}

func (f *fakeRelay) UpgradeAccount(ctx context.Context, params *relay.UpgradeAccountParams) error {
	const method = "wallet_upgradeAccount"
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++

	id, err := contextID(params.Context)
	if err != nil {
		return err
	}
	upgrade, ok := f.upgrades[id]
	if !ok {
		return &relay.ExecutionError{Method: method, Code: -32602, Message: "unknown context"}
	}
	auth := ethcrypto.Keccak256([]byte(id + "/auth"))
	exec := ethcrypto.Keccak256([]byte(id + "/exec"))
	if recoverAddress(auth, params.Signatures.Auth) != upgrade.Address || recoverAddress(exec, params.Signatures.Exec) != upgrade.Address {
		return execError(method, relay.AbiErrorUnauthorized)
	}

	keys, err := applyKeyChanges(method, nil, relay.PrepareCallsCapabilities{AuthorizeKeys: upgrade.Capabilities.AuthorizeKeys})
	if err != nil {
		return err
	}
	f.onchain[upgrade.Address] = keys
	delete(f.upgrades, id)
	return nil
}

func recoverAddress(digest, signature []byte) common.Address {
	if len(signature) != 65 {
		return common.Address{}
	}
	sig := common.CopyBytes(signature)
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}
	}
	return ethcrypto.PubkeyToAddress(*pub)
}

func (f *fakeRelay) SetEmail(ctx context.Context, email string, wallet common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++
	f.emails[wallet] = email
	return nil
}

func (f *fakeRelay) VerifyEmail(ctx context.Context, params *relay.VerifyEmailParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcs++
	f.verified = append(f.verified, params)
	return nil
}

func (f *fakeRelay) rpcCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rpcs
}

func (f *fakeRelay) keysOf(address common.Address) []types.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Key(nil), f.onchain[address]...)
}

func (f *fakeRelay) lastPrepared() *relay.PrepareCallsParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prepared) == 0 {
		return nil
	}
	return f.prepared[len(f.prepared)-1]
}

func (f *fakeRelay) lastSubmitted() *submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitted) == 0 {
		return nil
	}
	return &f.submitted[len(f.submitted)-1]
}

var _ relay.Client = (*fakeRelay)(nil)

// fakeAuthenticator stands in for the platform WebAuthn prompt
type fakeAuthenticator struct {
	mu        sync.Mutex
	created   []types.Key
	asserted  []types.Key
	digests   [][]byte
	discovery *signer.Assertion
}

func (f *fakeAuthenticator) CreateCredential(ctx context.Context, userID common.Address, label string) (types.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pub := append(ethcrypto.Keccak256(userID.Bytes()), ethcrypto.Keccak256([]byte(label))...)
	key := types.NewWebAuthnP256Key(pub, "cred-"+userID.Hex()[2:10], "example.com")
	key.Role = types.RoleAdmin
	f.created = append(f.created, key)
	return key, nil
}

func (f *fakeAuthenticator) Assert(ctx context.Context, digest []byte, key types.Key) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted = append(f.asserted, key)
	return append([]byte{0xaa}, digest...), nil
}

func (f *fakeAuthenticator) Discover(ctx context.Context, digest []byte) (*signer.Assertion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digests = append(f.digests, digest)
	if f.discovery == nil {
		return nil, errors.New("no credential selected")
	}
	assertion := *f.discovery
	assertion.Signature = append([]byte{0xbb}, digest...)
	return &assertion, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	actions map[string]int
	errors  map[string]int
}

func (m *recordingMetrics) ObserveAction(action string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actions == nil {
		m.actions = make(map[string]int)
		m.errors = make(map[string]int)
	}
	m.actions[action]++
	if err != nil {
		m.errors[action]++
	}
}

type harness struct {
	relay   *fakeRelay
	auth    *fakeAuthenticator
	store   *precall.MemoryStore
	ledger  precall.Ledger
	keys    *keyexec.KMSExecutor
	metrics *recordingMetrics
	svc     *AccountService
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	executor, err := keyexec.NewKMSExecutor(&keyexec.KMSConfig{LocalMasterKey: "app-test"})
	require.NoError(t, err)

	h := &harness{
		relay:   newFakeRelay(),
		auth:    &fakeAuthenticator{},
		store:   precall.NewMemoryStore(),
		keys:    executor,
		metrics: &recordingMetrics{},
	}
	h.ledger = precall.NewLedger(h.store)

	base := []Option{
		WithChainID(testChainID),
		WithConfirmation(time.Millisecond, time.Second),
		WithMetrics(h.metrics),
		WithSIWEDefaults("example.com", "https://example.com"),
	}
	h.svc = NewAccountService(
		h.relay,
		signer.NewRouter(executor, h.auth),
		h.ledger,
		feetoken.NewResolver(h.relay),
		executor,
		append(base, opts...)...,
	)
	return h
}

// createAccount creates a mock-mode account whose admin key is held locally
func (h *harness) createAccount(t *testing.T, req *CreateAccountRequest) *types.Account {
	t.Helper()
	if req == nil {
		req = &CreateAccountRequest{}
	}
	resp, err := h.svc.CreateAccount(context.Background(), nil, req)
	require.NoError(t, err)
	return &resp.Account
}

func sessionRequest(to common.Address) *permissions.Request {
	return &permissions.Request{
		Expiry: uint64(time.Now().Add(time.Hour).Unix()),
		Permissions: permissions.RequestPermissions{
			Calls: []types.CallPermission{{To: &to}},
			Spend: []permissions.SpendRequest{{Limit: "0x64", Period: types.PeriodDay}},
		},
	}
}

func preCallIDs(t *testing.T, preCalls []types.PreCall) []string {
	t.Helper()
	ids := make([]string, len(preCalls))
	for i, pc := range preCalls {
		id, err := contextID(pc.Context)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}
