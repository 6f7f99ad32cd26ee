package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RouteKind is how a collateral repay reaches the chain
type RouteKind string

const (
	// RouteDirect calls the repay adapter, which withdraws collateral itself
	RouteDirect RouteKind = "direct"
	// RouteFlashloan flash-borrows the collateral from the pool so the
	// position never sits in an unsafe intermediate state
	RouteFlashloan RouteKind = "flashloan"
)

// Interest rate modes as the pool encodes them
const (
	RateModeStable   uint8 = 1
	RateModeVariable uint8 = 2
)

// PermitSignature is an optional EIP-2612 permit for the collateral aToken
type PermitSignature struct {
	Amount   *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// RepayParams describe a repay-with-collateral call in base units
type RepayParams struct {
	User             common.Address
	CollateralAsset  common.Address
	DebtAsset        common.Address
	CollateralAmount *big.Int
	DebtRepayAmount  *big.Int
	RateMode         uint8
	// BuyAllBalanceOffset is the calldata offset the adapter patches with the
	// live debt balance when repaying everything. Zero when repaying a fixed amount.
	BuyAllBalanceOffset *big.Int
	// SwapData is the aggregator calldata for the swap
	SwapData []byte
	Permit   *PermitSignature
}

// Adapter encodes calls to the repay-with-collateral adapter contract
type Adapter interface {
	Address() common.Address
	PackSwapAndRepay(p RepayParams) ([]byte, error)
	PackFlashloanParams(p RepayParams) ([]byte, error)
}

// Pool encodes flashloan calls to the lending pool
type Pool interface {
	Address() common.Address
	PackFlashLoanSimple(receiver, asset common.Address, amount *big.Int, params []byte) ([]byte, error)
	// FlashloanPremium returns the total flashloan premium in basis points
	FlashloanPremium(ctx context.Context) (uint64, error)
}
