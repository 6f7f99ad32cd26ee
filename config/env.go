package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCEndpoint = "LENDCORE_RPC_URL"
	EnvChainID     = "LENDCORE_CHAIN_ID"
	EnvMarket      = "LENDCORE_MARKET"
	EnvPrivateKey  = "LENDCORE_PRIVATE_KEY"
)

// LoadEnv loads environment variables from .env files. Variables already set win.
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// ApplyEnv overrides network and market settings from the environment.
// An unparsable chain ID is ignored and left for Validate.
func ApplyEnv(cfg *Config) {
	cfg.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, cfg.RPCEndpoint)
	cfg.Market = GetEnvWithDefault(EnvMarket, cfg.Market)
	if raw := os.Getenv(EnvChainID); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.ChainID = id
		}
	}
}
