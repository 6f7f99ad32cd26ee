package batch

import (
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ResultKind discriminates a settled batch
type ResultKind int

const (
	ResultSuccess ResultKind = iota + 1
	ResultError
)

// Result is the outcome of the last Execute
type Result struct {
	Kind        ResultKind
	TxHash      common.Hash
	ExplorerURL string
	Error       validation.BlockingError
}

// IsSuccess reports a settled batch
func (r Result) IsSuccess() bool {
	return r.Kind == ResultSuccess
}

// IsError reports a failed execution
func (r Result) IsError() bool {
	return r.Kind == ResultError
}

// EnrichedTransaction is a user-facing batch item with its USD value
type EnrichedTransaction struct {
	types.BatchTransaction
	AmountUSD  decimal.Decimal
	GroupIndex int
	ItemIndex  int
}

// Approval is an approval or delegation with its real position in the batch
type Approval struct {
	types.BatchTransaction
	GroupIndex int
	ItemIndex  int
}

// GasCost is the aggregate cost of executing the batch
type GasCost struct {
	Limit  uint64
	Native decimal.Decimal
	USD    decimal.Decimal
}
