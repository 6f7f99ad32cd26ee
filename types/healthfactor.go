package types

import "github.com/shopspring/decimal"

// HealthFactor is weighted collateral over debt. A position without debt has an
// unbounded health factor.
type HealthFactor struct {
	value     decimal.Decimal
	unbounded bool
}

var one = decimal.NewFromInt(1)

// NewHealthFactor wraps a finite value
func NewHealthFactor(v decimal.Decimal) HealthFactor {
	return HealthFactor{value: v}
}

// UnboundedHealthFactor is the health factor of a position with no debt
func UnboundedHealthFactor() HealthFactor {
	return HealthFactor{unbounded: true}
}

// IsUnbounded reports whether there is no liquidation risk at all
func (h HealthFactor) IsUnbounded() bool {
	return h.unbounded
}

// Value returns the finite value. It is zero when unbounded.
func (h HealthFactor) Value() decimal.Decimal {
	return h.value
}

// Cmp orders health factors with unbounded above every finite value
func (h HealthFactor) Cmp(o HealthFactor) int {
	switch {
	case h.unbounded && o.unbounded:
		return 0
	case h.unbounded:
		return 1
	case o.unbounded:
		return -1
	}
	return h.value.Cmp(o.value)
}

// LessThanOrEqual compares against a plain threshold
func (h HealthFactor) LessThanOrEqual(threshold decimal.Decimal) bool {
	if h.unbounded {
		return false
	}
	return h.value.LessThanOrEqual(threshold)
}

// LessThan compares against a plain threshold
func (h HealthFactor) LessThan(threshold decimal.Decimal) bool {
	if h.unbounded {
		return false
	}
	return h.value.LessThan(threshold)
}

// Liquidatable reports HF <= 1
func (h HealthFactor) Liquidatable() bool {
	return h.LessThanOrEqual(one)
}

func (h HealthFactor) String() string {
	if h.unbounded {
		return "∞"
	}
	return h.value.String()
}
