package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrFlashloanDisabled is returned when a flashloan is required but the reserve disallows it
var ErrFlashloanDisabled = errors.New("flashloan required but disabled for the asset")

var bpsDenominator = big.NewInt(10_000)

// Route is a ready-to-sign repay transaction and how it was routed
type Route struct {
	Kind       RouteKind
	Tx         types.TxPayload
	PremiumBps uint64
	// Premium is the flashloan fee owed on top of the collateral amount
	Premium *big.Int
}

// Manager routes collateral repays to the adapter or through a pool flashloan
type Manager struct {
	adapter Adapter
	pool    Pool
	logger  *zap.Logger
	metrics *metrics.FlashloanMetrics
}

// NewManager creates a new flashloan route manager
func NewManager(adapter Adapter, pool Pool, logger *zap.Logger, namespace string, reg prometheus.Registerer) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		adapter: adapter,
		pool:    pool,
		logger:  logger,
		metrics: metrics.NewFlashloanMetrics(namespace, reg),
	}, nil
}

// AdapterAddress is the contract that pulls the collateral aTokens
func (m *Manager) AdapterAddress() common.Address {
	return m.adapter.Address()
}

// BuildRepayTx builds the repay transaction for the decided route
func (m *Manager) BuildRepayTx(ctx context.Context, decision Decision, p RepayParams) (Route, error) {
	if decision.Blocked {
		m.metrics.Blocked.Inc()
		return Route{}, ErrFlashloanDisabled
	}
	if err := validateRepayParams(p); err != nil {
		return Route{}, fmt.Errorf("invalid repay params: %w", err)
	}

	if !decision.Required {
		data, err := m.adapter.PackSwapAndRepay(p)
		if err != nil {
			return Route{}, fmt.Errorf("failed to pack swap and repay: %w", err)
		}
		m.metrics.Decisions.WithLabelValues(string(RouteDirect)).Inc()
		return Route{
			Kind: RouteDirect,
			Tx: types.TxPayload{
				From:  p.User,
				To:    m.adapter.Address(),
				Data:  data,
				Value: big.NewInt(0),
			},
			Premium: big.NewInt(0),
		}, nil
	}

	premiumBps, err := m.pool.FlashloanPremium(ctx)
	if err != nil {
		return Route{}, fmt.Errorf("failed to get flashloan premium: %w", err)
	}

	params, err := m.adapter.PackFlashloanParams(p)
	if err != nil {
		return Route{}, fmt.Errorf("failed to pack flashloan params: %w", err)
	}

	data, err := m.pool.PackFlashLoanSimple(m.adapter.Address(), p.CollateralAsset, p.CollateralAmount, params)
	if err != nil {
		return Route{}, fmt.Errorf("failed to pack flashLoanSimple: %w", err)
	}

	m.metrics.Decisions.WithLabelValues(string(RouteFlashloan)).Inc()
	m.metrics.Premium.Observe(float64(premiumBps))

	m.logger.Debug("Routing repay through flashloan",
		zap.String("collateral", p.CollateralAsset.Hex()),
		zap.String("debt", p.DebtAsset.Hex()),
		zap.Bool("frozen", decision.Frozen),
		zap.Bool("hf_impact", decision.HealthFactorImpact),
		zap.Uint64("premium_bps", premiumBps))

	return Route{
		Kind: RouteFlashloan,
		Tx: types.TxPayload{
			From:  p.User,
			To:    m.pool.Address(),
			Data:  data,
			Value: big.NewInt(0),
		},
		PremiumBps: premiumBps,
		Premium:    Premium(p.CollateralAmount, premiumBps),
	}, nil
}

// Premium is amount * bps / 10000 rounded up, which is what the pool charges
func Premium(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	num.Add(num, new(big.Int).Sub(bpsDenominator, big.NewInt(1)))
	return num.Div(num, bpsDenominator)
}

func validateRepayParams(p RepayParams) error {
	if p.CollateralAmount == nil || p.CollateralAmount.Sign() <= 0 {
		return fmt.Errorf("collateral amount must be positive")
	}
	if p.DebtRepayAmount == nil || p.DebtRepayAmount.Sign() <= 0 {
		return fmt.Errorf("debt repay amount must be positive")
	}
	if p.RateMode != RateModeStable && p.RateMode != RateModeVariable {
		return fmt.Errorf("unknown rate mode %d", p.RateMode)
	}
	if p.CollateralAsset == p.DebtAsset {
		return fmt.Errorf("collateral and debt asset must differ")
	}
	return nil
}
