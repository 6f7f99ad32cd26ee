package gas

import (
	"context"
	"fmt"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"
)

// LimitEstimator estimates the gas limit of a set of batch items
type LimitEstimator interface {
	EstimateGasLimit(ctx context.Context, items []types.BatchTransaction) (uint64, error)
}

// DefaultLimits are recommended limits per action, used when a live estimate is unavailable
var DefaultLimits = map[types.ActionKind]uint64{
	types.ActionApprove:  65_000,
	types.ActionDelegate: 55_000,
	types.ActionSupply:   300_000,
	types.ActionBorrow:   400_000,
	types.ActionRepay:    300_000,
	types.ActionWithdraw: 230_000,
	types.ActionTransfer: 65_000,
}

// StaticLimitEstimator sums recommended limits per action
type StaticLimitEstimator struct {
	Limits map[types.ActionKind]uint64
}

// EstimateGasLimit sums the recommended limit of every item
func (s StaticLimitEstimator) EstimateGasLimit(ctx context.Context, items []types.BatchTransaction) (uint64, error) {
	limits := s.Limits
	if limits == nil {
		limits = DefaultLimits
	}
	var total uint64
	for _, item := range items {
		limit, ok := limits[item.Action]
		if !ok {
			return 0, fmt.Errorf("no gas limit for action %q", item.Action)
		}
		total += limit
	}
	return total, nil
}

// ChainLimitEstimator asks the node for each item and falls back to the
// recommended limit when the node cannot estimate it, e.g. because an earlier
// approval in the batch has not been mined yet.
type ChainLimitEstimator struct {
	client   ethereum.GasEstimator
	fallback StaticLimitEstimator
	// SurplusPercent pads node estimates
	SurplusPercent uint64
	logger         *zap.Logger
}

// NewChainLimitEstimator creates a new node-backed limit estimator
func NewChainLimitEstimator(client ethereum.GasEstimator, logger *zap.Logger) (*ChainLimitEstimator, error) {
	if client == nil {
		return nil, fmt.Errorf("gas estimator client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainLimitEstimator{
		client:         client,
		SurplusPercent: 10,
		logger:         logger,
	}, nil
}

// EstimateGasLimit sums per-item estimates
func (c *ChainLimitEstimator) EstimateGasLimit(ctx context.Context, items []types.BatchTransaction) (uint64, error) {
	var total uint64
	for i, item := range items {
		limit, err := c.estimateItem(ctx, item)
		if err != nil {
			c.logger.Debug("Falling back to recommended gas limit",
				zap.Int("item", i),
				zap.String("action", string(item.Action)),
				zap.Error(err))
			limit, err = c.fallback.EstimateGasLimit(ctx, []types.BatchTransaction{item})
			if err != nil {
				return 0, fmt.Errorf("failed to estimate item %d: %w", i, err)
			}
		}
		total += limit
	}
	return total, nil
}

func (c *ChainLimitEstimator) estimateItem(ctx context.Context, item types.BatchTransaction) (uint64, error) {
	if item.Tx.GasLimit > 0 {
		return item.Tx.GasLimit, nil
	}
	if len(item.Tx.Data) == 0 {
		return 0, fmt.Errorf("item has no calldata")
	}
	to := item.Tx.To
	used, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  item.Tx.From,
		To:    &to,
		Value: item.Tx.Value,
		Data:  item.Tx.Data,
	})
	if err != nil {
		return 0, err
	}
	return used + used*c.SurplusPercent/100, nil
}
