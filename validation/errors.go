// Package validation decides which blocking condition, if any, prevents an
// action from being submitted.
package validation

import (
	"fmt"
	"strings"
)

// Category separates conditions that block submission from the ones that only
// inform the user.
type Category int

const (
	// CategoryBlocking prevents submission until the input changes
	CategoryBlocking Category = iota
	// CategoryQuote is a swap or estimation failure, shown inline and non-blocking
	CategoryQuote
	// CategorySubmission is a signing or broadcast failure; the batch is kept for retry
	CategorySubmission
)

func (c Category) String() string {
	switch c {
	case CategoryBlocking:
		return "blocking"
	case CategoryQuote:
		return "quote"
	case CategorySubmission:
		return "submission"
	}
	return "unknown"
}

// BlockingError is a typed condition shown inline next to an action. The set
// of kinds is closed: only this package can add one, and a kind without a
// message does not compile.
type BlockingError interface {
	Message() string
	Category() Category
	sealed()
}

type blocking struct{}

func (blocking) Category() Category { return CategoryBlocking }
func (blocking) sealed()            {}

// NoSupplies means the user has nothing supplied in the reserve
type NoSupplies struct{ blocking }

func (NoSupplies) Message() string { return "You do not have supplies in this currency" }

// CannotUseAsCollateral means the reserve has a zero liquidation threshold
type CannotUseAsCollateral struct{ blocking }

func (CannotUseAsCollateral) Message() string { return "You can not use this currency as collateral" }

// CollateralSwitchUnsafe means disabling the collateral would make the position liquidatable
type CollateralSwitchUnsafe struct{ blocking }

func (CollateralSwitchUnsafe) Message() string {
	return "You can not switch usage as collateral mode for this currency, because it will cause collateral call"
}

// ZeroLTVWithdrawBlocked lists zero LTV collateral that must go first
type ZeroLTVWithdrawBlocked struct {
	blocking
	Assets []string
}

func (e ZeroLTVWithdrawBlocked) Message() string {
	return fmt.Sprintf("Assets with zero LTV (%s) must be withdrawn or disabled as collateral to perform this action",
		strings.Join(e.Assets, ", "))
}

// NotEnoughCollateralToRepay means the swap needs more collateral than the user holds
type NotEnoughCollateralToRepay struct{ blocking }

func (NotEnoughCollateralToRepay) Message() string {
	return "Not enough collateral to repay this amount of debt with"
}

// FlashLoanNotAvailable means the atomic path is required but disabled for the asset
type FlashLoanNotAvailable struct{ blocking }

func (FlashLoanNotAvailable) Message() string {
	return "Due to health factor impact, a flashloan is required to perform this transaction, " +
		"but flashloans are disabled for this asset. Try lowering the amount or supplying additional collateral."
}

// InsufficientBalance means the wallet does not hold enough of the asset
type InsufficientBalance struct {
	blocking
	Symbol string
}

func (e InsufficientBalance) Message() string {
	if e.Symbol == "" {
		return "Insufficient balance"
	}
	return fmt.Sprintf("Insufficient %s balance", e.Symbol)
}

// EmptyBatch means there is nothing queued to execute
type EmptyBatch struct{ blocking }

func (EmptyBatch) Message() string { return "No transactions in batch" }

// QuoteUnavailable means the aggregator returned no usable route
type QuoteUnavailable struct {
	blocking
	Reason string
}

func (QuoteUnavailable) Category() Category { return CategoryQuote }

func (e QuoteUnavailable) Message() string {
	if e.Reason == "" {
		return "No swap route available"
	}
	return e.Reason
}

// ExecutionFailed is a rejected or failed submission
type ExecutionFailed struct {
	blocking
	Reason string
}

func (ExecutionFailed) Category() Category { return CategorySubmission }

func (ExecutionFailed) Message() string { return "Transaction execution failed" }

// Blocks reports whether err prevents submission
func Blocks(err BlockingError) bool {
	return err != nil && err.Category() == CategoryBlocking
}

var (
	_ BlockingError = NoSupplies{}
	_ BlockingError = CannotUseAsCollateral{}
	_ BlockingError = CollateralSwitchUnsafe{}
	_ BlockingError = ZeroLTVWithdrawBlocked{}
	_ BlockingError = NotEnoughCollateralToRepay{}
	_ BlockingError = FlashLoanNotAvailable{}
	_ BlockingError = InsufficientBalance{}
	_ BlockingError = EmptyBatch{}
	_ BlockingError = QuoteUnavailable{}
	_ BlockingError = ExecutionFailed{}
)
