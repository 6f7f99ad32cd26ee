package flashloan

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	adapterAddr = common.HexToAddress("0xad00000000000000000000000000000000000001")
	poolAddr    = common.HexToAddress("0x9001000000000000000000000000000000000002")
	weth        = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type mockAdapter struct {
	packErr error
}

func (m *mockAdapter) Address() common.Address { return adapterAddr }

func (m *mockAdapter) PackSwapAndRepay(p RepayParams) ([]byte, error) {
	if m.packErr != nil {
		return nil, m.packErr
	}
	return []byte("direct"), nil
}

func (m *mockAdapter) PackFlashloanParams(p RepayParams) ([]byte, error) {
	return []byte("params"), nil
}

type mockPool struct {
	premium    uint64
	premiumErr error
	receiver   common.Address
	asset      common.Address
	amount     *big.Int
	params     []byte
}

func (m *mockPool) Address() common.Address { return poolAddr }

func (m *mockPool) PackFlashLoanSimple(receiver, asset common.Address, amount *big.Int, params []byte) ([]byte, error) {
	m.receiver, m.asset, m.amount, m.params = receiver, asset, amount, params
	return []byte("flash"), nil
}

func (m *mockPool) FlashloanPremium(ctx context.Context) (uint64, error) {
	return m.premium, m.premiumErr
}

func testRepayParams() RepayParams {
	return RepayParams{
		User:             common.HexToAddress("0xbeef"),
		CollateralAsset:  weth,
		DebtAsset:        usdc,
		CollateralAmount: big.NewInt(5e17),
		DebtRepayAmount:  big.NewInt(1000e6),
		RateMode:         RateModeVariable,
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, &mockPool{}, nil, "test", nil)
	assert.Error(t, err)
	_, err = NewManager(&mockAdapter{}, nil, nil, "test", nil)
	assert.Error(t, err)
}

func TestManagerBuildRepayTx(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("direct route", func(t *testing.T) {
		m, err := NewManager(&mockAdapter{}, &mockPool{premium: 5}, logger, "test", nil)
		require.NoError(t, err)

		route, err := m.BuildRepayTx(context.Background(), Decision{}, testRepayParams())
		require.NoError(t, err)
		assert.Equal(t, RouteDirect, route.Kind)
		assert.Equal(t, adapterAddr, route.Tx.To)
		assert.Equal(t, []byte("direct"), route.Tx.Data)
		assert.Equal(t, int64(0), route.Premium.Int64())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.Decisions.WithLabelValues("direct")))
	})

	t.Run("flashloan route", func(t *testing.T) {
		pool := &mockPool{premium: 5}
		m, err := NewManager(&mockAdapter{}, pool, logger, "test", nil)
		require.NoError(t, err)

		p := testRepayParams()
		route, err := m.BuildRepayTx(context.Background(), Decision{Required: true, Frozen: true}, p)
		require.NoError(t, err)
		assert.Equal(t, RouteFlashloan, route.Kind)
		assert.Equal(t, poolAddr, route.Tx.To)
		assert.Equal(t, p.User, route.Tx.From)
		assert.Equal(t, uint64(5), route.PremiumBps)
		// 0.5 ETH * 5 bps
		assert.Equal(t, "250000000000000", route.Premium.String())

		assert.Equal(t, adapterAddr, pool.receiver)
		assert.Equal(t, weth, pool.asset)
		assert.Equal(t, 0, pool.amount.Cmp(p.CollateralAmount))
		assert.Equal(t, []byte("params"), pool.params)
	})

	t.Run("blocked", func(t *testing.T) {
		m, err := NewManager(&mockAdapter{}, &mockPool{}, logger, "test", nil)
		require.NoError(t, err)

		_, err = m.BuildRepayTx(context.Background(), Decision{Required: true, Blocked: true}, testRepayParams())
		assert.ErrorIs(t, err, ErrFlashloanDisabled)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.Blocked))
	})

	t.Run("premium error", func(t *testing.T) {
		m, err := NewManager(&mockAdapter{}, &mockPool{premiumErr: errors.New("rpc down")}, logger, "test", nil)
		require.NoError(t, err)

		_, err = m.BuildRepayTx(context.Background(), Decision{Required: true}, testRepayParams())
		assert.ErrorContains(t, err, "rpc down")
	})

	t.Run("invalid params", func(t *testing.T) {
		m, err := NewManager(&mockAdapter{}, &mockPool{}, logger, "test", nil)
		require.NoError(t, err)

		p := testRepayParams()
		p.CollateralAmount = big.NewInt(0)
		_, err = m.BuildRepayTx(context.Background(), Decision{}, p)
		assert.Error(t, err)

		p = testRepayParams()
		p.RateMode = 7
		_, err = m.BuildRepayTx(context.Background(), Decision{}, p)
		assert.Error(t, err)

		p = testRepayParams()
		p.DebtAsset = p.CollateralAsset
		_, err = m.BuildRepayTx(context.Background(), Decision{}, p)
		assert.Error(t, err)
	})
}

func TestPremium(t *testing.T) {
	assert.Equal(t, "9", Premium(big.NewInt(10_000), 9).String())
	// rounds up
	assert.Equal(t, "1", Premium(big.NewInt(1), 9).String())
	assert.Equal(t, "0", Premium(big.NewInt(1000), 0).String())
	assert.Equal(t, "0", Premium(nil, 9).String())
}
