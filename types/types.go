package types

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReserveState is one lending-pool asset as seen in a single market snapshot
type ReserveState struct {
	UnderlyingAsset                common.Address
	ATokenAddress                  common.Address
	Symbol                         string
	Decimals                       int32
	PriceInMarketReferenceCurrency decimal.Decimal
	PriceInUSD                     decimal.Decimal
	LiquidationThreshold           decimal.Decimal // fraction, 0.825 == 82.5%
	BaseLTV                        decimal.Decimal // fraction
	VariableBorrowAPY              decimal.Decimal // fraction, 0.05 == 5%
	IsFrozen                       bool
	IsPaused                       bool
	FlashLoanEnabled               bool
	IsIsolated                     bool
	UsageAsCollateralEnabled       bool
}

// UserReserve holds a user's balances for a single reserve
type UserReserve struct {
	UnderlyingAsset                          common.Address
	Symbol                                   string
	UnderlyingBalance                        decimal.Decimal
	UnderlyingBalanceMarketReferenceCurrency decimal.Decimal
	UnderlyingBalanceUSD                     decimal.Decimal
	VariableBorrows                          decimal.Decimal
	StableBorrows                            decimal.Decimal
	UsageAsCollateralEnabledOnUser           bool
}

// UserPosition is the aggregate state of a user across all reserves
type UserPosition struct {
	TotalCollateralMarketReferenceCurrency decimal.Decimal
	TotalBorrowsMarketReferenceCurrency    decimal.Decimal
	HealthFactor                           HealthFactor
	CurrentLiquidationThreshold            decimal.Decimal
	IsInIsolationMode                      bool
	Reserves                               []UserReserve
}

// MarketSnapshot is everything the data provider knows at one refresh.
// Snapshots are never mutated; a refresh produces a new one.
type MarketSnapshot struct {
	Reserves []ReserveState
	User     *UserPosition
	// MarketReferencePriceInUSD is raw, scaled by 10^USDDecimals
	MarketReferencePriceInUSD decimal.Decimal
	// USDDecimals is the fixed precision of USD oracle prices (USD_DECIMALS,
	// 8 on Aave markets), not the reference currency's own decimals
	USDDecimals int32
	Loading     bool
}

// DataProvider supplies market snapshots
type DataProvider interface {
	Snapshot(ctx context.Context) (*MarketSnapshot, error)
}

// ReserveByAsset finds a reserve by underlying asset address
func (s *MarketSnapshot) ReserveByAsset(asset common.Address) (ReserveState, bool) {
	if s == nil {
		return ReserveState{}, false
	}
	for _, r := range s.Reserves {
		if r.UnderlyingAsset == asset {
			return r, true
		}
	}
	return ReserveState{}, false
}

// ReserveBySymbol finds a reserve by symbol, ignoring case
func (s *MarketSnapshot) ReserveBySymbol(symbol string) (ReserveState, bool) {
	if s == nil {
		return ReserveState{}, false
	}
	for _, r := range s.Reserves {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return ReserveState{}, false
}

// UserReserveByAsset finds the user's balances for an asset
func (p *UserPosition) UserReserveByAsset(asset common.Address) (UserReserve, bool) {
	if p == nil {
		return UserReserve{}, false
	}
	for _, r := range p.Reserves {
		if r.UnderlyingAsset == asset {
			return r, true
		}
	}
	return UserReserve{}, false
}

// TxPayload is an unsigned transaction ready for the signer
type TxPayload struct {
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// SwapQuote is the result of one quote request. A newer request supersedes it.
type SwapQuote struct {
	InputAmount     decimal.Decimal
	InputAmountUSD  decimal.Decimal
	OutputAmount    decimal.Decimal
	OutputAmountUSD decimal.Decimal
	Loading         bool
	Error           string
	BuildTx         func(ctx context.Context) (TxPayload, error)
}

// ActionKind is what a batch item does on-chain
type ActionKind string

const (
	ActionApprove  ActionKind = "approve"
	ActionDelegate ActionKind = "delegate"
	ActionSupply   ActionKind = "supply"
	ActionBorrow   ActionKind = "borrow"
	ActionRepay    ActionKind = "repay"
	ActionWithdraw ActionKind = "withdraw"
	ActionTransfer ActionKind = "transfer"
)

// IsApproval reports whether the action is a prerequisite approval or delegation
func (a ActionKind) IsApproval() bool {
	return a == ActionApprove || a == ActionDelegate
}

// IsPoolAction reports whether the action is one of the lending pool actions shown in a batch
func (a ActionKind) IsPoolAction() bool {
	switch a {
	case ActionSupply, ActionBorrow, ActionRepay, ActionWithdraw:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a batch item
type ItemStatus string

const (
	StatusIdle     ItemStatus = "idle"
	StatusPending  ItemStatus = "pending"
	StatusApproved ItemStatus = "approved"
	StatusFailed   ItemStatus = "failed"
)

// CanTransition reports whether moving from s to next is allowed.
// idle -> pending -> {approved | failed}; failed is terminal.
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	switch s {
	case StatusIdle, "":
		return next == StatusPending
	case StatusPending:
		return next == StatusApproved || next == StatusFailed
	}
	return false
}

// BatchTransaction is one unit of work in a batch
type BatchTransaction struct {
	Action      ActionKind
	PoolAddress common.Address
	Amount      decimal.Decimal
	Symbol      string
	Tx          TxPayload
	Status      ItemStatus
	Hidden      bool
}

// BatchTransactionGroup is one logical user action plus the approvals it needs
type BatchTransactionGroup struct {
	ID    uuid.UUID
	Items []BatchTransaction
}

// NewBatchTransactionGroup creates a group with a fresh ID and idle items
func NewBatchTransactionGroup(items ...BatchTransaction) BatchTransactionGroup {
	out := make([]BatchTransaction, len(items))
	for i, item := range items {
		if item.Status == "" {
			item.Status = StatusIdle
		}
		out[i] = item
	}
	return BatchTransactionGroup{
		ID:    uuid.New(),
		Items: out,
	}
}
