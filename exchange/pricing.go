package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bias controls which side of the tick grid a raw price is pushed to.
type Bias string

const (
	BiasNearest Bias = "nearest"
	BiasUp      Bias = "up"
	BiasDown    Bias = "down"
)

var two = decimal.NewFromInt(2)

// SnapToTick aligns price to the exchange tick grid. The result always
// satisfies result mod tick == 0, and snapping an already aligned price
// returns it unchanged. Nearest-bias ties resolve upward.
//
// All arithmetic runs on decimal values; repeated float64 rounding drifts
// off the grid and gets orders rejected.
func SnapToTick(price, tick decimal.Decimal, bias Bias) (decimal.Decimal, error) {
	if tick.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid tick size %s: must be positive", tick)
	}

	remainder := price.Mod(tick)
	if remainder.IsZero() {
		return price, nil
	}

	lower := price.Div(tick).Floor().Mul(tick)
	upper := lower.Add(tick)

	switch bias {
	case BiasUp:
		return upper, nil
	case BiasDown:
		return lower, nil
	case BiasNearest, "":
		midpoint := lower.Add(tick.Div(two))
		if price.GreaterThanOrEqual(midpoint) {
			return upper, nil
		}
		return lower, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown tick bias %q", bias)
	}
}

// OffsetPrice applies the fee/slippage protection policy to a reference
// price before tick snapping: buys pay up to +offsetPct over the ask,
// sells accept down to -offsetPct under the bid, so the order crosses the
// book without drifting past the configured tolerance.
func OffsetPrice(reference decimal.Decimal, offsetPct float64, isBuy bool) decimal.Decimal {
	offset := decimal.NewFromFloat(offsetPct)
	if isBuy {
		return reference.Mul(decimal.NewFromInt(1).Add(offset))
	}
	return reference.Mul(decimal.NewFromInt(1).Sub(offset))
}

// TickFromPriceDecimals derives the tick size from price-decimal precision
// when the exchange metadata does not carry it directly (tick = 10^-decimals).
func TickFromPriceDecimals(priceDecimals int) decimal.Decimal {
	return decimal.New(1, int32(-priceDecimals))
}
