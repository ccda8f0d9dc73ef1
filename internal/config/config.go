// Package config loads typed configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the facilitator's full runtime configuration.
type Config struct {
	Environment string
	Port        string

	EVMPrivateKey       string
	BridgeEVMPrivateKey string
	EVMRPCURL           string
	ChainRPCOverrides   map[string]string // network -> RPC URL

	CrossChainEnabled        bool
	DeployERC4337WithEIP6492 bool

	DatabaseURL string
	RedisURL    string

	RateLimitRequests      int
	RateLimitWindowSeconds int

	BridgeMaxAttempts              int
	BridgeRetryIntervalSeconds     int
	BridgeStaleJobThresholdSeconds int
}

// Load reads .env (if present, never required) then environment
// variables, applying the defaults documented for the service.
func Load() (*Config, error) {
	_ = godotenv.Load() // local dev convenience; absence is not an error

	cfg := &Config{
		Environment:                    getEnv("ENVIRONMENT", "development"),
		Port:                           getEnv("PORT", "4022"),
		EVMPrivateKey:                  os.Getenv("EVM_PRIVATE_KEY"),
		BridgeEVMPrivateKey:            os.Getenv("BRIDGE_EVM_PRIVATE_KEY"),
		EVMRPCURL:                      os.Getenv("EVM_RPC_URL"),
		ChainRPCOverrides:              parseChainRPCOverrides(),
		CrossChainEnabled:              getEnvBool("CROSS_CHAIN_ENABLED", true),
		DeployERC4337WithEIP6492:       getEnvBool("DEPLOY_ERC4337_WITH_EIP6492", false),
		DatabaseURL:                    os.Getenv("DATABASE_URL"),
		RedisURL:                       os.Getenv("REDIS_URL"),
		RateLimitRequests:              getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindowSeconds:         getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		BridgeMaxAttempts:              getEnvInt("BRIDGE_MAX_ATTEMPTS", 3),
		BridgeRetryIntervalSeconds:     getEnvInt("BRIDGE_RETRY_INTERVAL_SECONDS", 1),
		BridgeStaleJobThresholdSeconds: getEnvInt("BRIDGE_STALE_JOB_THRESHOLD_SECONDS", 300),
	}

	if cfg.BridgeEVMPrivateKey == "" {
		cfg.BridgeEVMPrivateKey = cfg.EVMPrivateKey
	}

	if cfg.EVMPrivateKey == "" {
		return nil, fmt.Errorf("EVM_PRIVATE_KEY is required")
	}

	return cfg, nil
}

// RPCURLFor resolves the RPC endpoint for a CAIP-2 network: a per-chain
// override if present, otherwise the default EVM_RPC_URL.
func (c *Config) RPCURLFor(network string) (string, error) {
	if url, ok := c.ChainRPCOverrides[network]; ok && url != "" {
		return url, nil
	}
	if c.EVMRPCURL != "" {
		return c.EVMRPCURL, nil
	}
	return "", fmt.Errorf("no RPC URL configured for network %s", network)
}

// chainRPCEnvVars maps each documented per-chain RPC override variable to
// its CAIP-2 network id.
var chainRPCEnvVars = map[string]string{
	"ETH_RPC":          "eip155:1",
	"BASE_RPC":         "eip155:8453",
	"BASE_SEPOLIA_RPC": "eip155:84532",
	"SEPOLIA_RPC":      "eip155:11155111",
	"ARBITRUM_RPC":     "eip155:42161",
	"OPTIMISM_RPC":     "eip155:10",
	"POLYGON_RPC":      "eip155:137",
}

// parseChainRPCOverrides reads the documented per-chain RPC variables
// (ETH_RPC, BASE_RPC, BASE_SEPOLIA_RPC, SEPOLIA_RPC, ARBITRUM_RPC,
// OPTIMISM_RPC, POLYGON_RPC) into a network -> RPC URL map.
func parseChainRPCOverrides() map[string]string {
	overrides := make(map[string]string)
	for envVar, network := range chainRPCEnvVars {
		if url := os.Getenv(envVar); url != "" {
			overrides[network] = url
		}
	}
	return overrides
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
