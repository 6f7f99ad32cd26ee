package swap

import (
	"context"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Asset is one side of a swap
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals int32
	PriceUSD decimal.Decimal
}

// Request is a quote request. Variant and Amount are filled in by the Engine
// from its own state before the aggregator sees it.
type Request struct {
	ChainID       uint64
	User          common.Address
	Source        Asset
	Target        Asset
	SourceBalance decimal.Decimal
	Variant       Variant
	Amount        decimal.Decimal
	MaxSlippage   decimal.Decimal
	// Max asks the aggregator to size the swap for a full debt repay
	Max bool
	// Skip suppresses fetching while a transaction is in flight
	Skip bool
}

// Aggregator quotes swaps and builds their transactions
type Aggregator interface {
	GetQuote(ctx context.Context, req Request) (types.SwapQuote, error)
}
