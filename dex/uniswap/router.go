package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/michaelpento.lv/lendcore/swap"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils/math"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// DefaultDeadline is how long a built swap stays executable
const DefaultDeadline = 20 * time.Minute

// Router ABI for quoting and swapping along a token path
const routerABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"}
		],
		"name": "getAmountsOut",
		"outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"}
		],
		"name": "getAmountsIn",
		"outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "deadline", "type": "uint256"}
		],
		"name": "swapExactTokensForTokens",
		"outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"},
			{"internalType": "uint256", "name": "amountInMax", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "deadline", "type": "uint256"}
		],
		"name": "swapTokensForExactTokens",
		"outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// Router quotes direct swaps against a Uniswap V2 style router. It implements
// swap.Aggregator for markets without an off-chain aggregator.
type Router struct {
	address  common.Address
	caller   ethereum.ContractCaller
	abi      abi.ABI
	deadline time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewRouter creates a router quoter
func NewRouter(address common.Address, caller ethereum.ContractCaller, logger *zap.Logger) (*Router, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("router address cannot be empty")
	}
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &Router{
		address:  address,
		caller:   caller,
		abi:      parsedABI,
		deadline: DefaultDeadline,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Address returns the router contract address
func (r *Router) Address() common.Address {
	return r.address
}

// GetQuote prices req on the direct source/target pair. The returned quote
// builds a swap bounded by req.MaxSlippage and paid out to req.User.
func (r *Router) GetQuote(ctx context.Context, req swap.Request) (types.SwapQuote, error) {
	if req.Amount.Sign() <= 0 {
		return types.SwapQuote{}, fmt.Errorf("swap amount must be positive")
	}
	if req.Source.Address == req.Target.Address {
		return types.SwapQuote{}, fmt.Errorf("cannot swap %s for itself", req.Source.Symbol)
	}
	path := []common.Address{req.Source.Address, req.Target.Address}

	var amountIn, amountOut *big.Int
	switch req.Variant {
	case swap.VariantExactIn:
		amountIn = math.ToBaseUnits(req.Amount, req.Source.Decimals)
		amounts, err := r.amounts(ctx, "getAmountsOut", amountIn, path)
		if err != nil {
			return types.SwapQuote{}, err
		}
		amountOut = amounts[len(amounts)-1]
	case swap.VariantExactOut:
		amountOut = math.ToBaseUnits(req.Amount, req.Target.Decimals)
		amounts, err := r.amounts(ctx, "getAmountsIn", amountOut, path)
		if err != nil {
			return types.SwapQuote{}, err
		}
		amountIn = amounts[0]
	default:
		return types.SwapQuote{}, fmt.Errorf("unknown swap variant %q", req.Variant)
	}

	input := math.FromBaseUnits(amountIn, req.Source.Decimals)
	output := math.FromBaseUnits(amountOut, req.Target.Decimals)

	r.logger.Debug("Router quote",
		zap.String("variant", string(req.Variant)),
		zap.String("source", req.Source.Symbol),
		zap.String("target", req.Target.Symbol),
		zap.String("input", input.String()),
		zap.String("output", output.String()))

	return types.SwapQuote{
		InputAmount:     input,
		InputAmountUSD:  input.Mul(req.Source.PriceUSD),
		OutputAmount:    output,
		OutputAmountUSD: output.Mul(req.Target.PriceUSD),
		BuildTx: func(ctx context.Context) (types.TxPayload, error) {
			return r.buildSwap(req, path, amountIn, amountOut)
		},
	}, nil
}

func (r *Router) amounts(ctx context.Context, method string, amount *big.Int, path []common.Address) ([]*big.Int, error) {
	callData, err := r.abi.Pack(method, amount, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.address,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := r.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", method, len(out))
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("unexpected %s amounts %v", method, out[0])
	}
	return amounts, nil
}

func (r *Router) buildSwap(req swap.Request, path []common.Address, amountIn, amountOut *big.Int) (types.TxPayload, error) {
	deadline := big.NewInt(r.now().Add(r.deadline).Unix())

	var (
		data []byte
		err  error
	)
	if req.Variant == swap.VariantExactIn {
		minOut := swap.MinimumReceivedAfterSlippage(
			math.FromBaseUnits(amountOut, req.Target.Decimals), req.MaxSlippage, req.Target.Decimals)
		data, err = r.abi.Pack("swapExactTokensForTokens",
			amountIn, math.ToBaseUnits(minOut, req.Target.Decimals), path, req.User, deadline)
	} else {
		maxIn := swap.MaxInputAmountWithSlippage(
			math.FromBaseUnits(amountIn, req.Source.Decimals), req.MaxSlippage, req.Source.Decimals)
		data, err = r.abi.Pack("swapTokensForExactTokens",
			amountOut, math.ToBaseUnits(maxIn, req.Source.Decimals), path, req.User, deadline)
	}
	if err != nil {
		return types.TxPayload{}, fmt.Errorf("failed to pack swap: %w", err)
	}

	return types.TxPayload{
		From:  req.User,
		To:    r.address,
		Data:  data,
		Value: big.NewInt(0),
	}, nil
}
