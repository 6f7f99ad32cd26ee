package math

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the chain's native token
const NativeDecimals int32 = 18

// ToBaseUnits converts a token amount to its integer on-chain representation.
// Digits beyond the token's precision are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// ToBaseUnitsChecked is ToBaseUnits for amounts that must not be negative
func ToBaseUnitsChecked(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative: %s", amount)
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid token decimals: %d", decimals)
	}
	return ToBaseUnits(amount, decimals), nil
}

// FromBaseUnits converts an on-chain integer amount to token units
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// WeiToNative converts wei to native token units
func WeiToNative(wei *big.Int) decimal.Decimal {
	return FromBaseUnits(wei, NativeDecimals)
}

// RoundUp rounds away from zero at the given number of decimals
func RoundUp(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.RoundUp(decimals)
}

// RoundDown truncates towards zero at the given number of decimals
func RoundDown(d decimal.Decimal, decimals int32) decimal.Decimal {
	return d.RoundDown(decimals)
}

// BpsToFraction converts basis points to a fraction, 9 bps -> 0.0009
func BpsToFraction(bps uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Shift(-4)
}
