package cmd

import (
	"context"
	"fmt"

	"github.com/michaelpento.lv/lendcore/config"

	"github.com/ethereum/go-ethereum/ethclient"
)

// loadMarket reads the config file and the market it selects
func loadMarket() (*config.Config, config.Market, error) {
	// a missing .env is fine, the environment may be set directly
	_ = config.LoadEnv()
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, config.Market{}, err
	}
	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		return nil, config.Market{}, err
	}
	market, err := markets.Find(cfg.Market)
	if err != nil {
		return nil, config.Market{}, err
	}
	if market.ChainID != cfg.ChainID {
		return nil, config.Market{}, fmt.Errorf("market %s is on chain %d, config targets %d", market.Name, market.ChainID, cfg.ChainID)
	}
	return cfg, market, nil
}

func dial(ctx context.Context, cfg *config.Config) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCEndpoint, err)
	}
	return client, nil
}
