package api

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowhouse/core"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ErrAmountOutOfRange is returned for amounts that do not fit in uint64 base
// units.
var ErrAmountOutOfRange = errors.New("amount out of range")

const (
	// maxUnitsExponent bounds the decimal exponent of an amount in base
	// units; 10^20 already exceeds uint64.
	maxUnitsExponent = 20
	// maxAmountDigits bounds significant digits and fractional places.
	maxAmountDigits = 40
)

// AmountCodec converts between decimal strings in display units and integer
// base units, using each asset's number of decimals.
type AmountCodec struct {
	decimals map[core.Asset]int32
}

// NewAmountCodec returns a codec for the given per-asset decimals. Assets
// not listed have zero decimals.
func NewAmountCodec(decimals map[core.Asset]int32) *AmountCodec {
	d := make(map[core.Asset]int32, len(decimals))
	for asset, n := range decimals {
		d[asset] = n
	}
	return &AmountCodec{decimals: d}
}

// Decimals returns the number of decimals configured for asset.
func (c *AmountCodec) Decimals(asset core.Asset) int32 {
	if c == nil {
		return 0
	}
	return c.decimals[asset]
}

// Parse converts s, e.g. "12.5", into base units of asset. Values that are
// negative, finer than the asset's precision or beyond uint64 are rejected.
func (c *AmountCodec) Parse(asset core.Asset, s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}
	if d.IsZero() {
		return 0, nil
	}

	// Bound the exponent before any rescaling: shopspring materializes
	// 10^|exp| when it compares or truncates.
	places := c.Decimals(asset)
	exp := int64(d.Exponent()) + int64(places)
	if exp > maxUnitsExponent {
		return 0, fmt.Errorf("invalid amount %q: %w", s, ErrAmountOutOfRange)
	}
	if exp < -maxAmountDigits || len(d.Coefficient().String()) > maxAmountDigits {
		return 0, fmt.Errorf("invalid amount %q: too many digits", s)
	}

	units := d.Shift(places)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimals for %s", s, places, asset)
	}
	if units.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("invalid amount %q: %w", s, ErrAmountOutOfRange)
	}
	return units.BigInt().Uint64(), nil
}

// Format renders base units of asset with the asset's full precision.
func (c *AmountCodec) Format(asset core.Asset, v uint64) string {
	n := c.Decimals(asset)
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -n).StringFixed(n)
}
