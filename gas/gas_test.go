package gas

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ltypes "github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockFeeSource struct {
	baseFee *big.Int
	tip     *big.Int
	err     error
}

func (m *mockFeeSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &types.Header{BaseFee: m.baseFee}, nil
}

func (m *mockFeeSource) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return m.tip, nil
}

type mockGasEstimator struct {
	gas   map[common.Address]uint64
	calls int
}

func (m *mockGasEstimator) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.calls++
	if g, ok := m.gas[*call.To]; ok {
		return g, nil
	}
	return 0, errors.New("execution reverted")
}

func TestEstimator(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewEstimator(nil, logger)
	assert.Error(t, err)

	source := &mockFeeSource{baseFee: big.NewInt(20e9), tip: big.NewInt(2e9)}
	est, err := NewEstimator(source, logger)
	require.NoError(t, err)

	require.NoError(t, est.Update(context.Background()))
	base, tip := est.Fees()
	assert.Equal(t, int64(20e9), base.Int64())
	assert.Equal(t, int64(2e9), tip.Int64())

	cost := est.EstimateGasCost(100_000)
	assert.Equal(t, "2200000000000000", cost.String())

	// 0.0022 native at $2500
	usd := est.EstimateGasCostUSD(100_000, decimal.NewFromInt(2500))
	assert.True(t, usd.Equal(decimal.RequireFromString("5.5")), usd.String())

	source.err = errors.New("rpc down")
	assert.Error(t, est.Update(context.Background()))
	base, _ = est.Fees()
	assert.Equal(t, int64(20e9), base.Int64())
}

func TestEstimatorLoop(t *testing.T) {
	source := &mockFeeSource{baseFee: big.NewInt(1), tip: big.NewInt(1)}
	est, err := NewEstimator(source, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	est.Start(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		base, _ := est.Fees()
		return base.Int64() == 1
	}, time.Second, 5*time.Millisecond)

	est.Stop()
	est.Stop()
}

func TestStaticEstimator(t *testing.T) {
	est := NewStaticEstimator(big.NewInt(10), big.NewInt(1))
	assert.Equal(t, int64(110), est.EstimateGasCost(10).Int64())
	assert.NoError(t, est.Update(context.Background()))
}

func TestStaticLimitEstimator(t *testing.T) {
	items := []ltypes.BatchTransaction{
		{Action: ltypes.ActionApprove},
		{Action: ltypes.ActionSupply},
		{Action: ltypes.ActionDelegate, Hidden: true},
	}
	total, err := StaticLimitEstimator{}.EstimateGasLimit(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, uint64(65_000+300_000+55_000), total)

	_, err = StaticLimitEstimator{}.EstimateGasLimit(context.Background(), []ltypes.BatchTransaction{{Action: "stake"}})
	assert.Error(t, err)
}

func TestChainLimitEstimator(t *testing.T) {
	_, err := NewChainLimitEstimator(nil, nil)
	assert.Error(t, err)

	token := common.HexToAddress("0x01")
	pool := common.HexToAddress("0x02")
	client := &mockGasEstimator{gas: map[common.Address]uint64{token: 50_000}}

	est, err := NewChainLimitEstimator(client, zaptest.NewLogger(t))
	require.NoError(t, err)

	items := []ltypes.BatchTransaction{
		{Action: ltypes.ActionApprove, Tx: ltypes.TxPayload{To: token, Data: []byte{1}}},
		// reverts until the approval is mined
		{Action: ltypes.ActionSupply, Tx: ltypes.TxPayload{To: pool, Data: []byte{2}}},
		// explicit limit wins
		{Action: ltypes.ActionBorrow, Tx: ltypes.TxPayload{To: pool, Data: []byte{3}, GasLimit: 123_000}},
	}

	total, err := est.EstimateGasLimit(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, uint64(55_000+300_000+123_000), total)
	assert.Equal(t, 2, client.calls)
}
