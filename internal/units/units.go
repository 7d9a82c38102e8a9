// Package units converts between human-denominated token amounts and the
// integer base units the chain works in. All conversions go through
// shopspring/decimal so that config values like "0.26" survive the trip to
// 6- or 18-decimal base units without float drift.
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBase converts a human-denominated amount into base units for a token
// with the given number of decimals. Fractions below one base unit are
// truncated, never rounded up.
func ToBase(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// ToBaseFloat is ToBase for float-typed config values.
func ToBaseFloat(amount float64, decimals int32) *big.Int {
	return ToBase(decimal.NewFromFloat(amount), decimals)
}

// FromBase converts base units back to a human-denominated amount.
func FromBase(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, 0).Shift(-decimals)
}
