// Package units converts display-unit decimal quantities to integer base units and back.
package units

import (
	"math/big"
	"strings"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest precision the converter is tested against.
const MaxDecimals = 18

// ParseAmount parses a human-entered decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, model.Validationf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, model.Validationf("invalid amount %q", s)
	}
	return d, nil
}

// ToBaseUnits returns amount × 10^decimals. Fraction digits beyond decimals are truncated,
// never rounded. Non-positive amounts map to zero.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	if amount.Sign() <= 0 {
		return new(big.Int)
	}
	whole, frac, _ := strings.Cut(amount.String(), ".")
	if len(frac) < int(decimals) {
		frac += strings.Repeat("0", int(decimals)-len(frac))
	}
	frac = frac[:decimals]

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		// decimal.String never emits exponents, this only guards against an empty string
		return new(big.Int)
	}
	return out
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// Sum adds base-unit amounts.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
