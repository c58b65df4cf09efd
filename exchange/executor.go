package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Executor converts a validated order request into an exchange-valid order:
// size rounded to the asset precision, price offset and snapped to tick,
// leverage applied before submission.
type Executor struct {
	client     Client
	offsetPct  float64
	defaultTIF string
}

// NewExecutor creates an order executor. offsetPct is the market-order
// slippage tolerance (e.g. 0.02 for 2%).
func NewExecutor(client Client, offsetPct float64, defaultTIF string) *Executor {
	if defaultTIF == "" {
		defaultTIF = "Ioc"
	}
	return &Executor{
		client:     client,
		offsetPct:  offsetPct,
		defaultTIF: defaultTIF,
	}
}

// Execute runs the full submission sequence for one request. It always
// returns a non-nil Outcome suitable for persistence; the error mirrors
// Outcome.ErrorMessage when the attempt failed. A leverage change that was
// applied before a later failure stays visible in the outcome.
func (x *Executor) Execute(ctx context.Context, req OrderRequest) (*Outcome, error) {
	outcome := &Outcome{
		Coin:        req.Coin,
		IsBuy:       req.IsBuy,
		TIF:         req.TIF,
		SubmittedAt: time.Now().UTC(),
	}
	if outcome.TIF == "" {
		outcome.TIF = x.defaultTIF
	}

	fail := func(err error) (*Outcome, error) {
		outcome.Submitted = false
		outcome.ErrorMessage = err.Error()
		return outcome, err
	}

	// 1. Trading rules for the instrument.
	meta, err := x.client.GetAssetMetadata(ctx, req.Coin)
	if err != nil {
		return fail(fmt.Errorf("resolve asset metadata for %s: %w", req.Coin, err))
	}
	if meta.TickSize.Sign() <= 0 {
		return fail(fmt.Errorf("%s: %w", req.Coin, ErrNoTickSize))
	}

	// 2. Round the requested size to the asset's size precision.
	size := decimal.NewFromFloat(req.Size).Round(meta.SizeDecimals)
	if size.Sign() <= 0 {
		return fail(fmt.Errorf("size %.8f rounds to zero at %d decimals", req.Size, meta.SizeDecimals))
	}
	outcome.Size, _ = size.Float64()

	// 3. Determine the target price.
	price, err := x.resolvePrice(ctx, req, meta)
	if err != nil {
		return fail(err)
	}
	outcome.Price = price.String()

	// 4. Leverage is a separate exchange side effect. A failure here aborts
	// the submission but still leaves its own trace in the outcome.
	if err := x.client.UpdateLeverage(ctx, req.Coin, req.Leverage); err != nil {
		outcome.LeverageError = err.Error()
		return fail(fmt.Errorf("update leverage for %s to %dx: %w", req.Coin, req.Leverage, err))
	}
	outcome.LeverageApplied = true

	// 5. Submit.
	orderID, err := x.client.SubmitOrder(ctx, req.Coin, req.IsBuy, size.String(), price.String(), outcome.TIF, false)
	if err != nil {
		return fail(fmt.Errorf("submit order for %s: %w", req.Coin, err))
	}

	outcome.Submitted = true
	outcome.OrderID = orderID
	log.Printf("✓ Order submitted: %s %s size=%s price=%s tif=%s (order id %d)",
		direction(req.IsBuy), req.Coin, size.String(), price.String(), outcome.TIF, orderID)
	return outcome, nil
}

// resolvePrice returns the final tick-aligned order price. Market-style
// requests are priced off the top of book with the offset policy; limit
// requests keep the caller's price, snapped to the nearest tick.
func (x *Executor) resolvePrice(ctx context.Context, req OrderRequest, meta *AssetMetadata) (decimal.Decimal, error) {
	if req.LimitPrice != nil {
		return SnapToTick(*req.LimitPrice, meta.TickSize, BiasNearest)
	}

	book, err := x.client.GetBookSnapshot(ctx, req.Coin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("book snapshot for %s: %w", req.Coin, err)
	}

	var reference decimal.Decimal
	var bias Bias
	if req.IsBuy {
		reference = book.BestAsk
		bias = BiasUp
	} else {
		reference = book.BestBid
		bias = BiasDown
	}
	if reference.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", req.Coin, ErrEmptyBook)
	}

	raw := OffsetPrice(reference, x.offsetPct, req.IsBuy)
	return SnapToTick(raw, meta.TickSize, bias)
}

func direction(isBuy bool) string {
	if isBuy {
		return "BUY"
	}
	return "SELL"
}
