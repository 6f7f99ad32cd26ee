package aave

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/michaelpento.lv/lendcore/flashloan"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const permitComponents = `[
	{"internalType": "uint256", "name": "amount", "type": "uint256"},
	{"internalType": "uint256", "name": "deadline", "type": "uint256"},
	{"internalType": "uint8", "name": "v", "type": "uint8"},
	{"internalType": "bytes32", "name": "r", "type": "bytes32"},
	{"internalType": "bytes32", "name": "s", "type": "bytes32"}
]`

// Repay adapter ABI for swap-and-repay operations
const repayAdapterABI = `[
	{
		"inputs": [
			{"internalType": "contract IERC20Detailed", "name": "collateralAsset", "type": "address"},
			{"internalType": "contract IERC20Detailed", "name": "debtAsset", "type": "address"},
			{"internalType": "uint256", "name": "collateralAmount", "type": "uint256"},
			{"internalType": "uint256", "name": "debtRepayAmount", "type": "uint256"},
			{"internalType": "uint256", "name": "debtRateMode", "type": "uint256"},
			{"internalType": "uint256", "name": "buyAllBalanceOffset", "type": "uint256"},
			{"internalType": "bytes", "name": "paraswapData", "type": "bytes"},
			{
				"components": ` + permitComponents + `,
				"internalType": "struct BaseParaSwapAdapter.PermitSignature",
				"name": "permitSignature",
				"type": "tuple"
			}
		],
		"name": "swapAndRepay",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// RepayAdapter encodes calls to the repay-with-collateral adapter
type RepayAdapter struct {
	address      common.Address
	abi          abi.ABI
	flashloanArg abi.Arguments
}

// NewRepayAdapter creates a new repay adapter encoder
func NewRepayAdapter(address common.Address) (*RepayAdapter, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("adapter address cannot be empty")
	}

	parsedABI, err := abi.JSON(strings.NewReader(repayAdapterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	args, err := flashloanParamsArguments()
	if err != nil {
		return nil, fmt.Errorf("failed to build flashloan params: %w", err)
	}

	return &RepayAdapter{
		address:      address,
		abi:          parsedABI,
		flashloanArg: args,
	}, nil
}

// Address returns the adapter contract address
func (a *RepayAdapter) Address() common.Address {
	return a.address
}

// PackSwapAndRepay encodes a direct swapAndRepay call
func (a *RepayAdapter) PackSwapAndRepay(p flashloan.RepayParams) ([]byte, error) {
	return a.abi.Pack("swapAndRepay",
		p.CollateralAsset,
		p.DebtAsset,
		p.CollateralAmount,
		p.DebtRepayAmount,
		new(big.Int).SetUint64(uint64(p.RateMode)),
		offsetOrZero(p.BuyAllBalanceOffset),
		swapDataOrEmpty(p.SwapData),
		permitOrEmpty(p.Permit),
	)
}

// PackFlashloanParams encodes the params the adapter decodes in executeOperation
func (a *RepayAdapter) PackFlashloanParams(p flashloan.RepayParams) ([]byte, error) {
	return a.flashloanArg.Pack(
		p.DebtAsset,
		p.DebtRepayAmount,
		offsetOrZero(p.BuyAllBalanceOffset),
		new(big.Int).SetUint64(uint64(p.RateMode)),
		swapDataOrEmpty(p.SwapData),
		permitOrEmpty(p.Permit),
	)
}

func flashloanParamsArguments() (abi.Arguments, error) {
	address, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	bytesT, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	permit, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "amount", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "v", Type: "uint8"},
		{Name: "r", Type: "bytes32"},
		{Name: "s", Type: "bytes32"},
	})
	if err != nil {
		return nil, err
	}

	return abi.Arguments{
		{Name: "debtAsset", Type: address},
		{Name: "debtRepayAmount", Type: uint256},
		{Name: "buyAllBalanceOffset", Type: uint256},
		{Name: "rateMode", Type: uint256},
		{Name: "paraswapData", Type: bytesT},
		{Name: "permitSignature", Type: permit},
	}, nil
}

func offsetOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func swapDataOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func permitOrEmpty(p *flashloan.PermitSignature) flashloan.PermitSignature {
	if p == nil {
		return flashloan.PermitSignature{Amount: big.NewInt(0), Deadline: big.NewInt(0)}
	}
	out := *p
	if out.Amount == nil {
		out.Amount = big.NewInt(0)
	}
	if out.Deadline == nil {
		out.Deadline = big.NewInt(0)
	}
	return out
}
