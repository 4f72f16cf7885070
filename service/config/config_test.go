package config

import (
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken    = "0x1111111111111111111111111111111111111111"
	testRegistry = "0x2222222222222222222222222222222222222222"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	cleanupEnv()
	t.Setenv("RPC_URL", "https://rpc.sepolia.mantle.xyz")
	t.Setenv("CHAIN_ID", "5003")
	t.Setenv("PROPERTY_TOKEN_ADDRESS", testToken)
	t.Setenv("KYC_REGISTRY_ADDRESS", testRegistry)
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://rpc.sepolia.mantle.xyz", cfg.RPCURL)
	assert.Equal(t, 0, cfg.ChainID.Cmp(big.NewInt(5003)))
	assert.Equal(t, testToken, cfg.PropertyTokenAddress)
	assert.Equal(t, testRegistry, cfg.KYCRegistryAddress)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "SDMN", cfg.TokenSymbol)
	assert.Equal(t, "https://ipfs.io/ipfs/", cfg.IPFSGatewayURL)
	assert.Equal(t, 30*time.Second, cfg.CacheStaleTime)
	assert.Equal(t, 1024, cfg.CacheSize)
	assert.Equal(t, 2*time.Second, cfg.ReceiptPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.ReceiptTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10000, cfg.SessionMax)
	assert.False(t, cfg.SessionCookieSecure)
	assert.Equal(t, 90*24*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, 24*time.Hour, cfg.HistoryPruneInterval)
	assert.True(t, cfg.ReadOnly())
	assert.Empty(t, cfg.OperatorToken)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.TemporalHost)
}

func TestLoad_MissingRequired(t *testing.T) {
	cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "RPC_URL is required")
	assert.Contains(t, err.Error(), "CHAIN_ID is required")
	assert.Contains(t, err.Error(), "PROPERTY_TOKEN_ADDRESS is required")
	assert.Contains(t, err.Error(), "KYC_REGISTRY_ADDRESS is required")
}

func TestLoad_InvalidAddress(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KYC_REGISTRY_ADDRESS", "0x123")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "KYC_REGISTRY_ADDRESS: invalid address")
}

func TestLoad_InvalidChainID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHAIN_ID", "mantle")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_ID: invalid chain id")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CACHE_STALE_TIME", "invalid")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_TimeoutShorterThanPollInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECEIPT_POLL_INTERVAL", "10s")
	t.Setenv("RECEIPT_TIMEOUT", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be less than")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WALLET_PRIVATE_KEY", "0x"+strings.Repeat("ab", 32))
	t.Setenv("DASHBOARD_API_TOKEN", "operator-secret-token")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com/, http://localhost:3000")
	t.Setenv("EXPLORER_URL", "https://explorer.example.com/")
	t.Setenv("DATABASE_URL", "postgres://localhost/idproperty")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("TEMPORAL_HOST", "localhost:7233")
	t.Setenv("RPC_RATE_LIMIT", "2.5")
	t.Setenv("SESSION_COOKIE_SECURE", "true")
	t.Setenv("HISTORY_RETENTION", "720h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.ReadOnly())
	assert.Len(t, cfg.WalletPrivateKey, 64)
	assert.Equal(t, "operator-secret-token", cfg.OperatorToken)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "https://explorer.example.com", cfg.ExplorerURL)
	assert.Equal(t, "postgres://localhost/idproperty", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "localhost:7233", cfg.TemporalHost)
	assert.Equal(t, "idproperty-receipts", cfg.TemporalTaskQueue)
	assert.InDelta(t, 2.5, cfg.RPCRateLimit, 0.0001)
	assert.True(t, cfg.SessionCookieSecure)
	assert.Equal(t, 30*24*time.Hour, cfg.HistoryRetention)
}

func TestLoad_WalletWithoutOperatorToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALLET_PRIVATE_KEY", strings.Repeat("ab", 32))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OperatorToken is required")
}

func TestLoad_InvalidBool(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_COOKIE_SECURE", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_COOKIE_SECURE: invalid boolean")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RPCURL:               "http://localhost:8545",
			ChainID:              big.NewInt(31337),
			PropertyTokenAddress: testToken,
			KYCRegistryAddress:   testRegistry,
			RPCRateLimit:         10,
			RPCRateBurst:         1,
			CacheStaleTime:       time.Minute,
			CacheSize:            10,
			ReceiptPollInterval:  time.Second,
			ReceiptTimeout:       time.Minute,
			SessionTTL:           time.Hour,
			SessionMax:           100,
			HistoryRetention:     24 * time.Hour,
			HistoryPruneInterval: time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing rpc", mutate: func(c *Config) { c.RPCURL = "" }, wantErr: "RPCURL is required"},
		{name: "nil chain id", mutate: func(c *Config) { c.ChainID = nil }, wantErr: "ChainID must be positive"},
		{name: "short key", mutate: func(c *Config) { c.WalletPrivateKey = "abcd" }, wantErr: "WalletPrivateKey"},
		{name: "tiny stale time", mutate: func(c *Config) { c.CacheStaleTime = time.Millisecond }, wantErr: "CacheStaleTime"},
		{name: "bad token", mutate: func(c *Config) { c.PropertyTokenAddress = "token" }, wantErr: "PropertyTokenAddress"},
		{name: "short session ttl", mutate: func(c *Config) { c.SessionTTL = time.Second }, wantErr: "SessionTTL"},
		{name: "short retention", mutate: func(c *Config) { c.HistoryRetention = time.Minute }, wantErr: "HistoryRetention"},
		{name: "wallet and token", mutate: func(c *Config) {
			c.WalletPrivateKey = strings.Repeat("ab", 32)
			c.OperatorToken = "operator-secret-token"
		}},
		{name: "short operator token", mutate: func(c *Config) { c.OperatorToken = "short" }, wantErr: "OperatorToken must be at least"},
		{name: "wildcard origin", mutate: func(c *Config) { c.CORSAllowedOrigins = []string{"*"} }, wantErr: "CORSAllowedOrigins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL",
		"RPC_URL", "CHAIN_ID", "PROPERTY_TOKEN_ADDRESS", "KYC_REGISTRY_ADDRESS",
		"EXPLORER_URL", "IPFS_GATEWAY_URL", "TOKEN_SYMBOL", "WALLET_PRIVATE_KEY",
		"DASHBOARD_API_TOKEN", "CORS_ALLOWED_ORIGINS",
		"RPC_RATE_LIMIT", "RPC_RATE_BURST", "CACHE_STALE_TIME", "CACHE_SIZE", "REFETCH_SCHEDULE",
		"RECEIPT_POLL_INTERVAL", "RECEIPT_TIMEOUT",
		"SESSION_TTL", "SESSION_MAX", "SESSION_COOKIE_SECURE", "HISTORY_RETENTION", "HISTORY_PRUNE_INTERVAL",
		"DATABASE_URL", "NATS_URL", "TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	} {
		os.Unsetenv(key)
	}
}
