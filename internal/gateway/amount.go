package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger units are integers. Providers speak decimal strings (PayPal "12.50") or scaled
// integers (VNPay amount*100, VQR raw VND). These helpers convert both ways without floats.

// unitsFromDecimal converts a provider decimal amount to ledger units.
// The result must be a whole, non-negative number of units.
func unitsFromDecimal(value string, unitsPerCurrency int64) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	units := d.Mul(decimal.NewFromInt(unitsPerCurrency))
	if units.IsNegative() || !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q is not a whole number of units", value)
	}
	return units.IntPart(), nil
}

// decimalFromUnits renders ledger units as a provider decimal string with two places.
func decimalFromUnits(units, unitsPerCurrency int64) string {
	return decimal.NewFromInt(units).Div(decimal.NewFromInt(unitsPerCurrency)).StringFixed(2)
}

// unitsFromScaled divides a provider integer amount by divisor, rejecting remainders.
func unitsFromScaled(raw string, divisor int64) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if divisor <= 0 {
		divisor = 1
	}
	q, r := d.QuoRem(decimal.NewFromInt(divisor), 0)
	if !r.IsZero() || q.IsNegative() {
		return 0, fmt.Errorf("amount %q is not a multiple of %d", raw, divisor)
	}
	return q.IntPart(), nil
}
