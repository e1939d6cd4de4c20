package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends
const (
	LedgerMemory   = "memory"
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

// Config holds process-level configuration for the account engine host
type Config struct {
	// Relay / chain
	RelayURL       string
	RelayAPIKey    string // optional; sent as X-API-Key
	ChainID        uint64
	EthRPCURL      string // optional; enables proxy implementation checks
	MerchantRPCURL string // optional; sponsors prepared calls

	// PreCall ledger
	LedgerBackend    string // memory, file or postgres
	LedgerDir        string
	PostgresDSN      string
	PostgresMaxConns int
	PersistPreCalls  bool

	// Local key material
	KMSProvider        string
	KMSLocalMasterKey  string
	KMSAWSKeyID        string
	KMSAWSRegion       string
	KMSVaultAddress    string
	KMSVaultToken      string
	KMSVaultTransitKey string

	// Engine behaviour
	MockMode         bool
	ConfirmInterval  time.Duration
	ConfirmTimeout   time.Duration
	FeeTokenCacheTTL time.Duration
	DefaultFeeToken  string
	SIWEDomain       string
	SIWEURI          string

	// Server
	Port             int
	APIKeyHash       string
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		RelayURL:       getEnv("RELAY_URL", ""),
		RelayAPIKey:    getEnv("RELAY_API_KEY", ""),
		ChainID:        getEnvUint64("CHAIN_ID", 0),
		EthRPCURL:      getEnv("ETH_RPC_URL", ""),
		MerchantRPCURL: getEnv("MERCHANT_RPC_URL", ""),

		LedgerBackend:    getEnv("LEDGER_BACKEND", LedgerMemory),
		LedgerDir:        getEnv("LEDGER_DIR", ""),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		PostgresMaxConns: getEnvInt("POSTGRES_MAX_CONNS", 10),
		PersistPreCalls:  getEnvBool("PERSIST_PRECALLS", true),

		KMSProvider:        getEnv("KMS_PROVIDER", "local"),
		KMSLocalMasterKey:  getEnv("KMS_LOCAL_MASTER_KEY", ""),
		KMSAWSKeyID:        getEnv("KMS_AWS_KEY_ID", ""),
		KMSAWSRegion:       getEnv("KMS_AWS_REGION", ""),
		KMSVaultAddress:    getEnv("KMS_VAULT_ADDRESS", ""),
		KMSVaultToken:      getEnv("KMS_VAULT_TOKEN", ""),
		KMSVaultTransitKey: getEnv("KMS_VAULT_TRANSIT_KEY", ""),

		MockMode:         getEnvBool("MOCK_MODE", true),
		ConfirmInterval:  getEnvDuration("CONFIRM_INTERVAL", 500*time.Millisecond),
		ConfirmTimeout:   getEnvDuration("CONFIRM_TIMEOUT", 60*time.Second),
		FeeTokenCacheTTL: getEnvDuration("FEE_TOKEN_CACHE_TTL", time.Minute),
		DefaultFeeToken:  getEnv("DEFAULT_FEE_TOKEN", ""),
		SIWEDomain:       getEnv("SIWE_DOMAIN", ""),
		SIWEURI:          getEnv("SIWE_URI", ""),

		Port:             getEnvInt("PORT", 8080),
		APIKeyHash:       getEnv("API_KEY_HASH", ""),
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("RELAY_URL is required")
	}

	if c.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID is required")
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerFile:
		if c.LedgerDir == "" {
			return fmt.Errorf("LEDGER_DIR is required when LEDGER_BACKEND is 'file'")
		}
	case LedgerPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when LEDGER_BACKEND is 'postgres'")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be 'memory', 'file' or 'postgres', got: %s", c.LedgerBackend)
	}

	switch c.KMSProvider {
	case "local", "":
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.KMSAWSKeyID == "" || c.KMSAWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when KMS_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	if c.ConfirmInterval <= 0 {
		return fmt.Errorf("CONFIRM_INTERVAL must be positive")
	}
	if c.ConfirmTimeout < c.ConfirmInterval {
		return fmt.Errorf("CONFIRM_TIMEOUT must not be shorter than CONFIRM_INTERVAL")
	}

	if c.APIKeyHash == "" && !c.MockMode {
		return fmt.Errorf("API_KEY_HASH is required unless MOCK_MODE is enabled")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvUint64 gets an unsigned integer environment variable, accepting decimal or 0x hex
func getEnvUint64(key string, defaultValue uint64) uint64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 0, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable (e.g. "500ms") with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
