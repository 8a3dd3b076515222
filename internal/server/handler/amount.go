package handler

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// DefaultAmountDecimals matches a six-decimal stablecoin.
const DefaultAmountDecimals = 6

// Amounts converts between display amounts ("12.5") and base units
// (12500000 at six decimals).
type Amounts struct {
	decimals int32
	scale    decimal.Decimal
}

// NewAmounts returns a converter for an asset with the given number of
// fractional digits; negative values mean the default.
func NewAmounts(decimals int) Amounts {
	if decimals < 0 {
		decimals = DefaultAmountDecimals
	}
	return Amounts{decimals: int32(decimals), scale: decimal.New(1, int32(decimals))}
}

// Parse converts a display amount into base units. It rejects
// non-positive values, values finer than one base unit and values above
// domain.MaxAmount.
func (a Amounts) Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domain.Errorf(domain.KindInvalidAmount, fmt.Sprintf("invalid amount %q", s))
	}
	if !d.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	base := d.Mul(a.scale)
	if !base.Equal(base.Truncate(0)) {
		return 0, domain.Errorf(domain.KindInvalidAmount,
			fmt.Sprintf("amount %s has more than %d decimals", s, a.decimals))
	}
	bi := base.BigInt()
	if !bi.IsUint64() || bi.Uint64() > domain.MaxAmount {
		return 0, domain.Errorf(domain.KindInvalidAmount, fmt.Sprintf("amount %s is too large", s))
	}
	return bi.Uint64(), nil
}

// Format renders base units as a display amount without trailing zeros.
func (a Amounts) Format(base uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(base), -a.decimals).String()
}

// field decodes an amount given either as a JSON string or number.
func (a Amounts) field(n json.Number) (uint64, error) {
	if n == "" {
		return 0, domain.Errorf(domain.KindInvalidAmount, "amount is required")
	}
	return a.Parse(n.String())
}
