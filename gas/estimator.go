package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	lmath "github.com/michaelpento.lv/lendcore/utils/math"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeSource supplies the chain's current fee market
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator tracks base fee and priority fee and prices gas limits
type Estimator struct {
	source      FeeSource
	logger      *zap.Logger
	baseFee     *big.Int
	priorityFee *big.Int
	mu          sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewEstimator creates a new gas estimator
func NewEstimator(source FeeSource, logger *zap.Logger) (*Estimator, error) {
	if source == nil {
		return nil, fmt.Errorf("fee source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		source:      source,
		logger:      logger,
		baseFee:     big.NewInt(0),
		priorityFee: big.NewInt(0),
		stop:        make(chan struct{}),
	}, nil
}

// NewStaticEstimator creates an estimator with fixed fees, used when no RPC is configured
func NewStaticEstimator(baseFee, priorityFee *big.Int) *Estimator {
	return &Estimator{
		logger:      zap.NewNop(),
		baseFee:     new(big.Int).Set(baseFee),
		priorityFee: new(big.Int).Set(priorityFee),
		stop:        make(chan struct{}),
	}
}

// Start refreshes fees every interval until ctx is done or Stop is called
func (e *Estimator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				if err := e.Update(ctx); err != nil {
					e.logger.Error("Failed to update gas prices", zap.Error(err))
				}
			}
		}
	}()
}

// Update fetches the latest base fee and priority fee
func (e *Estimator) Update(ctx context.Context) error {
	if e.source == nil {
		return nil
	}

	header, err := e.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	priorityFee, err := e.source.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	e.baseFee = new(big.Int).Set(baseFee)
	e.priorityFee = new(big.Int).Set(priorityFee)
	e.mu.Unlock()

	return nil
}

// Fees returns copies of the current base fee and priority fee
func (e *Estimator) Fees() (baseFee, priorityFee *big.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.baseFee), new(big.Int).Set(e.priorityFee)
}

// EstimateGasCost returns gasLimit * (baseFee + priorityFee) in wei
func (e *Estimator) EstimateGasCost(gasLimit uint64) *big.Int {
	baseFee, priorityFee := e.Fees()
	price := new(big.Int).Add(baseFee, priorityFee)
	return price.Mul(price, new(big.Int).SetUint64(gasLimit))
}

// EstimateGasCostUSD prices gasLimit in USD given the native token price
func (e *Estimator) EstimateGasCostUSD(gasLimit uint64, nativePriceUSD decimal.Decimal) decimal.Decimal {
	return lmath.WeiToNative(e.EstimateGasCost(gasLimit)).Mul(nativePriceUSD)
}

// Stop stops the fee refresh loop
func (e *Estimator) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}
