package swap

import (
	"github.com/shopspring/decimal"
)

// Variant is which side of the swap the caller fixes
type Variant string

const (
	// VariantExactIn spends a fixed source amount and accepts whatever target it yields
	VariantExactIn Variant = "exactIn"
	// VariantExactOut asks for a fixed target amount and reports the source needed
	VariantExactOut Variant = "exactOut"
)

// Selection is a variant plus the amount it is quoted with
type Selection struct {
	Variant Variant
	Amount  decimal.Decimal
}

// SelectVariant picks exact-in on the whole balance when it cannot cover the
// source amount required for target, and exact-out on target otherwise.
func SelectVariant(balance, requiredSource, target decimal.Decimal) Selection {
	if balance.LessThan(requiredSource) {
		return Selection{Variant: VariantExactIn, Amount: balance}
	}
	return Selection{Variant: VariantExactOut, Amount: target}
}
