package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint"`

	// Market selection
	MarketsFile string `json:"markets_file"`
	Market      string `json:"market"`

	// Swap settings
	MaxSlippage decimal.Decimal `json:"max_slippage"` // percent
	Quote       QuoteConfig     `json:"quote"`

	// Gas settings
	FeeUpdateInterval time.Duration `json:"fee_update_interval"`
	UseChainGasLimits bool          `json:"use_chain_gas_limits"`

	// Metrics
	MetricsNamespace   string `json:"metrics_namespace"`
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
}

type QuoteConfig struct {
	CacheSize int             `json:"cache_size"`
	CacheTTL  time.Duration   `json:"cache_ttl"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
}

type SecureConfig struct {
	PrivateKey string
}

func (c *Config) Validate() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.MarketsFile == "" {
		errors = append(errors, "markets_file must be specified")
	}
	if c.Market == "" {
		errors = append(errors, "market must be specified")
	}
	if c.MaxSlippage.Sign() <= 0 || c.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errors = append(errors, "max_slippage must be between 0 and 100")
	}
	if c.FeeUpdateInterval <= 0 {
		errors = append(errors, "fee_update_interval must be positive")
	}

	if err := c.Quote.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("quote config error: %v", err))
	}

	if c.PrometheusEnabled && c.PrometheusEndpoint == "" {
		errors = append(errors, "prometheus_endpoint must be specified when prometheus is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (q *QuoteConfig) Validate() error {
	if q.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if q.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	return q.RateLimit.Validate()
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}

	return nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".lendcore.json"), nil
}

// LoadConfig reads cfgFile over the defaults. Environment overrides are
// applied before validation.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		cfgFile = path
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	ApplyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey: privateKey,
	}, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return err
		}
		cfgFile = path
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// DefaultConfig targets the Flow EVM mainnet market
func DefaultConfig() *Config {
	return &Config{
		ChainID:           747,
		RPCEndpoint:       "https://mainnet.evm.nodes.onflow.org",
		MarketsFile:       "markets.yaml",
		Market:            "flow",
		MaxSlippage:       decimal.RequireFromString("0.5"),
		FeeUpdateInterval: 12 * time.Second,
		Quote: QuoteConfig{
			CacheSize: 128,
			CacheTTL:  15 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         2,
			},
		},
		MetricsNamespace:   "lendcore",
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}
