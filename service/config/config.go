package config

import (
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

const minOperatorTokenLen = 16

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Chain configuration
	RPCURL               string
	ChainID              *big.Int
	PropertyTokenAddress string
	KYCRegistryAddress   string
	ExplorerURL          string
	IPFSGatewayURL       string
	TokenSymbol          string

	// Wallet configuration. Empty means the dashboard runs read-only.
	WalletPrivateKey string

	// OperatorToken authenticates whoever may act as the wallet: a bearer
	// token on the JSON API and the login secret for browser sessions.
	OperatorToken string

	// CORSAllowedOrigins are the cross-origin callers allowed on the API.
	CORSAllowedOrigins []string

	// RPC throttling
	RPCRateLimit float64
	RPCRateBurst int

	// Read cache configuration
	CacheStaleTime  time.Duration
	CacheSize       int
	RefetchSchedule string

	// Receipt waiting
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration

	// Browser sessions
	SessionTTL          time.Duration
	SessionMax          int
	SessionCookieSecure bool

	// Action history retention, enforced by the worker's prune schedule
	HistoryRetention     time.Duration
	HistoryPruneInterval time.Duration

	// Optional infrastructure. Empty values disable the feature.
	DatabaseURL  string
	NATSURL      string
	TemporalHost string

	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Chain configuration
	cfg.RPCURL = os.Getenv("RPC_URL")
	if cfg.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPC_URL is required"))
	}

	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		errs = append(errs, fmt.Errorf("CHAIN_ID is required"))
	} else if id, ok := new(big.Int).SetString(chainID, 10); !ok || id.Sign() <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID: invalid chain id %q", chainID))
	} else {
		cfg.ChainID = id
	}

	cfg.PropertyTokenAddress = os.Getenv("PROPERTY_TOKEN_ADDRESS")
	if err := validateAddress("PROPERTY_TOKEN_ADDRESS", cfg.PropertyTokenAddress); err != nil {
		errs = append(errs, err)
	}

	cfg.KYCRegistryAddress = os.Getenv("KYC_REGISTRY_ADDRESS")
	if err := validateAddress("KYC_REGISTRY_ADDRESS", cfg.KYCRegistryAddress); err != nil {
		errs = append(errs, err)
	}

	cfg.ExplorerURL = strings.TrimRight(getEnvOrDefault("EXPLORER_URL", "https://explorer.sepolia.mantle.xyz"), "/")
	cfg.IPFSGatewayURL = getEnvOrDefault("IPFS_GATEWAY_URL", "https://ipfs.io/ipfs/")
	cfg.TokenSymbol = getEnvOrDefault("TOKEN_SYMBOL", "SDMN")

	cfg.WalletPrivateKey = strings.TrimPrefix(os.Getenv("WALLET_PRIVATE_KEY"), "0x")
	cfg.OperatorToken = os.Getenv("DASHBOARD_API_TOKEN")
	cfg.CORSAllowedOrigins = parseList("CORS_ALLOWED_ORIGINS")

	// RPC throttling
	rateLimit, err := parseFloat("RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateLimit = rateLimit
	}

	rateBurst, err := parseInt("RPC_RATE_BURST", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateBurst = rateBurst
	}

	// Read cache configuration
	staleTime, err := parseDuration("CACHE_STALE_TIME", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CacheStaleTime = staleTime
	}

	cacheSize, err := parseInt("CACHE_SIZE", 1024)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CacheSize = cacheSize
	}

	cfg.RefetchSchedule = getEnvOrDefault("REFETCH_SCHEDULE", "@every 30s")

	// Receipt waiting
	pollInterval, err := parseDuration("RECEIPT_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReceiptPollInterval = pollInterval
	}

	receiptTimeout, err := parseDuration("RECEIPT_TIMEOUT", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReceiptTimeout = receiptTimeout
	}

	// Browser sessions
	sessionTTL, err := parseDuration("SESSION_TTL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionTTL = sessionTTL
	}

	sessionMax, err := parseInt("SESSION_MAX", 10000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionMax = sessionMax
	}

	cookieSecure, err := parseBool("SESSION_COOKIE_SECURE", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionCookieSecure = cookieSecure
	}

	// Action history retention
	retention, err := parseDuration("HISTORY_RETENTION", "2160h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryRetention = retention
	}

	pruneInterval, err := parseDuration("HISTORY_PRUNE_INTERVAL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryPruneInterval = pruneInterval
	}

	// Optional infrastructure
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "idproperty-receipts")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}

	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		errs = append(errs, fmt.Errorf("ChainID must be positive"))
	}

	if !addressPattern.MatchString(c.PropertyTokenAddress) {
		errs = append(errs, fmt.Errorf("PropertyTokenAddress must be a 0x-prefixed 20 byte hex address"))
	}

	if !addressPattern.MatchString(c.KYCRegistryAddress) {
		errs = append(errs, fmt.Errorf("KYCRegistryAddress must be a 0x-prefixed 20 byte hex address"))
	}

	if c.WalletPrivateKey != "" && len(c.WalletPrivateKey) != 64 {
		errs = append(errs, fmt.Errorf("WalletPrivateKey must be 32 bytes of hex"))
	}

	if c.WalletPrivateKey != "" && c.OperatorToken == "" {
		errs = append(errs, fmt.Errorf("OperatorToken is required when WalletPrivateKey is set"))
	}

	if c.OperatorToken != "" && len(c.OperatorToken) < minOperatorTokenLen {
		errs = append(errs, fmt.Errorf("OperatorToken must be at least %d characters", minOperatorTokenLen))
	}

	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" || !strings.HasPrefix(origin, "http") {
			errs = append(errs, fmt.Errorf("CORSAllowedOrigins: invalid origin %q", origin))
		}
	}

	if c.RPCRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit must be positive"))
	}

	if c.RPCRateBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCRateBurst must be at least 1"))
	}

	if c.CacheStaleTime < time.Second {
		errs = append(errs, fmt.Errorf("CacheStaleTime must be at least 1 second"))
	}

	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("CacheSize must be at least 1"))
	}

	if c.ReceiptPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ReceiptPollInterval must be positive"))
	}

	if c.ReceiptTimeout < c.ReceiptPollInterval {
		errs = append(errs, fmt.Errorf("ReceiptTimeout (%v) cannot be less than ReceiptPollInterval (%v)",
			c.ReceiptTimeout, c.ReceiptPollInterval))
	}

	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Errorf("SessionTTL must be at least 1 minute"))
	}

	if c.SessionMax < 1 {
		errs = append(errs, fmt.Errorf("SessionMax must be at least 1"))
	}

	if c.HistoryRetention < time.Hour {
		errs = append(errs, fmt.Errorf("HistoryRetention must be at least 1 hour"))
	}

	if c.HistoryPruneInterval < time.Minute {
		errs = append(errs, fmt.Errorf("HistoryPruneInterval must be at least 1 minute"))
	}

	if c.TemporalHost != "" && c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required when TemporalHost is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ReadOnly reports whether no signing wallet is configured.
func (c *Config) ReadOnly() bool {
	return c.WalletPrivateKey == ""
}

func validateAddress(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !addressPattern.MatchString(value) {
		return fmt.Errorf("%s: invalid address %q", key, value)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated variable, dropping blanks and
// trailing slashes.
func parseList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimRight(strings.TrimSpace(item), "/"); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
