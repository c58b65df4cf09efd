package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors. These fail the order step of the current cycle only; the
// cycle still persists its episode with a failed-order outcome.
var (
	ErrUnknownCoin = errors.New("coin not listed on exchange")
	ErrNoTickSize  = errors.New("no tick size metadata for coin")
	ErrEmptyBook   = errors.New("order book snapshot has no levels")
)

// AccountSnapshot is the account state captured at the start of a cycle.
// Field names follow the clearinghouse margin summary. Immutable once
// captured.
type AccountSnapshot struct {
	AccountValue    float64   `json:"account_value"`     // equity
	TotalNtlPos     float64   `json:"total_ntl_pos"`     // aggregate notional position
	TotalRawUSD     float64   `json:"total_raw_usd"`     // raw USD exposure
	TotalMarginUsed float64   `json:"total_margin_used"` // margin in use
	Withdrawable    float64   `json:"withdrawable"`      // withdrawable balance
	CapturedAt      time.Time `json:"captured_at"`
}

// Summary renders the snapshot as a single prompt-friendly line.
func (a *AccountSnapshot) Summary() string {
	if a == nil {
		return "not available"
	}
	return fmt.Sprintf("equity=%.2f notional_position=%.2f raw_usd=%.2f margin_used=%.2f withdrawable=%.2f",
		a.AccountValue, a.TotalNtlPos, a.TotalRawUSD, a.TotalMarginUsed, a.Withdrawable)
}

// AssetMetadata carries the exchange trading rules for one instrument.
type AssetMetadata struct {
	Coin         string
	SizeDecimals int32           // quantity precision
	TickSize     decimal.Decimal // smallest valid price increment
}

// BookSnapshot is the top of book at pricing time.
type BookSnapshot struct {
	Coin       string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	CapturedAt time.Time
}

// OrderRequest is the abstract order the executor turns into an
// exchange-valid submission. LimitPrice nil means market-style execution
// priced off the book with the offset policy.
type OrderRequest struct {
	Coin       string
	IsBuy      bool
	Size       float64
	Leverage   int
	TIF        string
	LimitPrice *decimal.Decimal
}

// Outcome is the audit record of one execution attempt. Downstream
// persistence stores this, not the raw API payload.
type Outcome struct {
	Submitted       bool      `json:"submitted"`
	OrderID         int64     `json:"order_id,omitempty"`
	Coin            string    `json:"coin"`
	IsBuy           bool      `json:"is_buy"`
	Size            float64   `json:"size"`
	Price           string    `json:"price"`
	TIF             string    `json:"tif"`
	LeverageApplied bool      `json:"leverage_applied"`
	LeverageError   string    `json:"leverage_error,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Client is the synchronous exchange transport consumed by the executor
// and the cycle shell.
type Client interface {
	GetAccountState(ctx context.Context) (*AccountSnapshot, error)
	GetAssetMetadata(ctx context.Context, coin string) (*AssetMetadata, error)
	GetBookSnapshot(ctx context.Context, coin string) (*BookSnapshot, error)
	UpdateLeverage(ctx context.Context, coin string, leverage int) error
	SubmitOrder(ctx context.Context, coin string, isBuy bool, size, price, tif string, reduceOnly bool) (int64, error)
}
