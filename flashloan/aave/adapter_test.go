package aave

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/michaelpento.lv/lendcore/flashloan"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type mockCaller struct {
	calls   int
	premium *big.Int
	err     error
}

func (m *mockCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]byte, 32)
	m.premium.FillBytes(out)
	return out, nil
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func testParams() flashloan.RepayParams {
	return flashloan.RepayParams{
		User:             common.HexToAddress("0xbeef"),
		CollateralAsset:  weth,
		DebtAsset:        usdc,
		CollateralAmount: big.NewInt(5e17),
		DebtRepayAmount:  big.NewInt(1000e6),
		RateMode:         flashloan.RateModeVariable,
		SwapData:         []byte{0xde, 0xad},
	}
}

func TestRepayAdapter(t *testing.T) {
	_, err := NewRepayAdapter(common.Address{})
	assert.Error(t, err)

	adapterAddr := common.HexToAddress("0x02e7B8511831B1b02d9018215a0f8f500Ea5c6B3")
	adapter, err := NewRepayAdapter(adapterAddr)
	require.NoError(t, err)
	assert.Equal(t, adapterAddr, adapter.Address())

	t.Run("swapAndRepay", func(t *testing.T) {
		data, err := adapter.PackSwapAndRepay(testParams())
		require.NoError(t, err)

		sig := "swapAndRepay(address,address,uint256,uint256,uint256,uint256,bytes,(uint256,uint256,uint8,bytes32,bytes32))"
		assert.True(t, bytes.Equal(selector(sig), data[:4]))

		args, err := adapter.abi.Methods["swapAndRepay"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		assert.Equal(t, weth, args[0])
		assert.Equal(t, usdc, args[1])
		assert.Equal(t, "500000000000000000", args[2].(*big.Int).String())
		assert.Equal(t, "1000000000", args[3].(*big.Int).String())
		assert.Equal(t, int64(2), args[4].(*big.Int).Int64())
		assert.Equal(t, int64(0), args[5].(*big.Int).Int64())
		assert.Equal(t, []byte{0xde, 0xad}, args[6])
	})

	t.Run("flashloan params", func(t *testing.T) {
		p := testParams()
		p.BuyAllBalanceOffset = big.NewInt(36)
		data, err := adapter.PackFlashloanParams(p)
		require.NoError(t, err)

		args, err := adapter.flashloanArg.Unpack(data)
		require.NoError(t, err)
		require.Len(t, args, 6)
		assert.Equal(t, usdc, args[0])
		assert.Equal(t, "1000000000", args[1].(*big.Int).String())
		assert.Equal(t, int64(36), args[2].(*big.Int).Int64())
		assert.Equal(t, int64(2), args[3].(*big.Int).Int64())
	})

	t.Run("permit", func(t *testing.T) {
		p := testParams()
		p.Permit = &flashloan.PermitSignature{Amount: big.NewInt(1), Deadline: big.NewInt(99), V: 27}
		_, err := adapter.PackSwapAndRepay(p)
		require.NoError(t, err)
	})
}

func TestPool(t *testing.T) {
	logger := zaptest.NewLogger(t)
	poolAddr := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")

	_, err := NewPool(common.Address{}, nil, logger)
	assert.Error(t, err)

	t.Run("flashLoanSimple", func(t *testing.T) {
		pool, err := NewPool(poolAddr, nil, logger)
		require.NoError(t, err)

		receiver := common.HexToAddress("0xad01")
		data, err := pool.PackFlashLoanSimple(receiver, weth, big.NewInt(5e17), []byte{1, 2, 3})
		require.NoError(t, err)
		assert.True(t, bytes.Equal(selector("flashLoanSimple(address,address,uint256,bytes,uint16)"), data[:4]))

		args, err := pool.abi.Methods["flashLoanSimple"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		assert.Equal(t, receiver, args[0])
		assert.Equal(t, weth, args[1])
		assert.Equal(t, []byte{1, 2, 3}, args[3])
		assert.Equal(t, uint16(0), args[4])

		_, err = pool.PackFlashLoanSimple(receiver, weth, big.NewInt(0), nil)
		assert.Error(t, err)
	})

	t.Run("premium read once", func(t *testing.T) {
		caller := &mockCaller{premium: big.NewInt(5)}
		pool, err := NewPool(poolAddr, caller, logger)
		require.NoError(t, err)

		bps, err := pool.FlashloanPremium(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(5), bps)

		bps, err = pool.FlashloanPremium(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(5), bps)
		assert.Equal(t, 1, caller.calls)
	})

	t.Run("premium error", func(t *testing.T) {
		pool, err := NewPool(poolAddr, &mockCaller{err: errors.New("rpc down")}, logger)
		require.NoError(t, err)

		_, err = pool.FlashloanPremium(context.Background())
		assert.ErrorContains(t, err, "rpc down")
	})

	t.Run("pinned premium", func(t *testing.T) {
		pool, err := NewPool(poolAddr, nil, logger)
		require.NoError(t, err)

		_, err = pool.FlashloanPremium(context.Background())
		assert.Error(t, err)

		pool.SetPremium(9)
		bps, err := pool.FlashloanPremium(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(9), bps)
	})
}

func TestManagerWithAaveEncoders(t *testing.T) {
	adapter, err := NewRepayAdapter(common.HexToAddress("0xad01"))
	require.NoError(t, err)
	pool, err := NewPool(common.HexToAddress("0x9001"), nil, nil)
	require.NoError(t, err)
	pool.SetPremium(5)

	m, err := flashloan.NewManager(adapter, pool, zaptest.NewLogger(t), "test", nil)
	require.NoError(t, err)

	route, err := m.BuildRepayTx(context.Background(), flashloan.Decision{Required: true}, testParams())
	require.NoError(t, err)
	assert.Equal(t, flashloan.RouteFlashloan, route.Kind)
	assert.Equal(t, pool.Address(), route.Tx.To)
	assert.True(t, bytes.Equal(selector("flashLoanSimple(address,address,uint256,bytes,uint16)"), route.Tx.Data[:4]))
}
