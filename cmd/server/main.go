package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/better-wallet/smart-account/internal/api"
	"github.com/better-wallet/smart-account/internal/app"
	"github.com/better-wallet/smart-account/internal/config"
	"github.com/better-wallet/smart-account/internal/eth"
	"github.com/better-wallet/smart-account/internal/feetoken"
	"github.com/better-wallet/smart-account/internal/keyexec"
	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/internal/metrics"
	"github.com/better-wallet/smart-account/internal/middleware"
	"github.com/better-wallet/smart-account/internal/precall"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/signer"
	"github.com/better-wallet/smart-account/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	relayOpts := []relay.Option{relay.WithMetrics(m)}
	if cfg.RelayAPIKey != "" {
		relayOpts = append(relayOpts, relay.WithHeader("X-API-Key", cfg.RelayAPIKey))
	}
	relayClient, err := relay.Dial(ctx, cfg.RelayURL, relayOpts...)
	if err != nil {
		slog.Error("failed to connect to relay", "error", err)
		os.Exit(1)
	}
	defer relayClient.Close()

	// Initialize storage for accounts and pending pre-calls
	var (
		store        *storage.Store
		accounts     storage.AccountStore
		preCallStore precall.Store
		pinger       api.Pinger
	)
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		store, err = storage.New(ctx, cfg.PostgresDSN, storage.WithMaxConns(int32(cfg.PostgresMaxConns)))
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		slog.Info("connected to database")

		accounts = storage.NewAccountRepository(store)
		preCallStore = storage.NewPreCallRepository(store)
		pinger = store
	case config.LedgerFile:
		fileStore, err := precall.NewFileStore(cfg.LedgerDir)
		if err != nil {
			slog.Error("failed to open pre-call directory", "error", err)
			os.Exit(1)
		}
		accounts = storage.NewMemoryAccountStore()
		preCallStore = fileStore
	default:
		accounts = storage.NewMemoryAccountStore()
		preCallStore = precall.NewMemoryStore()
	}
	if cfg.LedgerBackend != config.LedgerPostgres {
		slog.Warn("accounts are held in memory and lost on restart", "ledger_backend", cfg.LedgerBackend)
	}

	ledger := precall.Discard
	if cfg.PersistPreCalls {
		ledger = precall.NewLedger(preCallStore)
	}

	// Initialize key executor for locally held key material
	keyExec, err := keyexec.NewKMSExecutor(&keyexec.KMSConfig{
		Provider:        cfg.KMSProvider,
		LocalMasterKey:  cfg.KMSLocalMasterKey,
		AWSKMSKeyID:     cfg.KMSAWSKeyID,
		AWSKMSRegion:    cfg.KMSAWSRegion,
		VaultAddress:    cfg.KMSVaultAddress,
		VaultToken:      cfg.KMSVaultToken,
		VaultTransitKey: cfg.KMSVaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize KMS executor", "error", err)
		os.Exit(1)
	}
	slog.Info("initialized key executor", "provider", keyExec.Provider())

	opts := []app.Option{
		app.WithChainID(cfg.ChainID),
		app.WithMockMode(cfg.MockMode),
		app.WithConfirmation(cfg.ConfirmInterval, cfg.ConfirmTimeout),
		app.WithMetrics(m),
		app.WithDefaultFeeToken(cfg.DefaultFeeToken),
		app.WithSIWEDefaults(cfg.SIWEDomain, cfg.SIWEURI),
		app.WithMerchantDialer(merchantDialer(relay.WithMetrics(m))),
	}

	if cfg.EthRPCURL != "" {
		chain, err := eth.NewClient(ctx, cfg.EthRPCURL)
		if err != nil {
			slog.Error("failed to connect to chain node", "error", err)
			os.Exit(1)
		}
		defer chain.Close()
		if chain.ChainID() != cfg.ChainID {
			slog.Error("chain node serves a different chain", "expected", cfg.ChainID, "actual", chain.ChainID())
			os.Exit(1)
		}
		opts = append(opts, app.WithImplementationReader(chain))
	}

	if !cfg.MockMode {
		slog.Warn("no WebAuthn authenticator is available in this host; only headless admin keys can sign")
	}

	// Initialize application services
	feeTokens := feetoken.NewResolver(relayClient, feetoken.WithTTL(cfg.FeeTokenCacheTTL))
	accountService := app.NewAccountService(relayClient, signer.NewRouter(keyExec, nil), ledger, feeTokens, keyExec, opts...)

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)

	// Initialize API server
	server := api.NewServer(cfg, accountService, accounts, m, rateLimiter, pinger)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// SIGHUP refreshes the fee tokens offered by the relay
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			accountService.InvalidateFeeTokens()
			slog.Info("fee token cache invalidated")
		}
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		// in-flight requests may be waiting on bundle confirmation
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ConfirmTimeout+5*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

// merchantDialer reuses one relay connection per merchant URL
func merchantDialer(opts ...relay.Option) app.MerchantDialer {
	var mu sync.Mutex
	clients := make(map[string]*relay.RPCClient)

	return func(ctx context.Context, url string) (relay.Client, error) {
		mu.Lock()
		defer mu.Unlock()

		if c, ok := clients[url]; ok {
			return c, nil
		}
		c, err := relay.Dial(ctx, url, opts...)
		if err != nil {
			return nil, err
		}
		clients[url] = c
		return c, nil
	}
}
