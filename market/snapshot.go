package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Snapshot is the per-cycle market overview for one coin. Sub-metrics that
// could not be computed (no funding history, too few candles) stay nil
// instead of failing the whole snapshot. Immutable once captured.
type Snapshot struct {
	Coin         string    `json:"coin"`
	CurrentPrice float64   `json:"current_price"`
	EMA10        *float64  `json:"ema10,omitempty"`
	EMA20        *float64  `json:"ema20,omitempty"`
	FundingLast  *float64  `json:"funding_rate_latest,omitempty"`
	FundingAvg   *float64  `json:"funding_rate_avg,omitempty"`
	Volatility   *float64  `json:"volatility_24h,omitempty"` // stddev of close-to-close returns
	Volume24h    *float64  `json:"volume_24h,omitempty"`
	OpenInterest *float64  `json:"open_interest,omitempty"`
	BuyPressure  *float64  `json:"buy_pressure,omitempty"` // taker buy share of recent volume, percent
	NetVolume    *float64  `json:"net_volume,omitempty"`   // taker buy volume - taker sell volume
	CapturedAt   time.Time `json:"captured_at"`
}

// Summary renders the snapshot as a single prompt-friendly line. Missing
// metrics render as n/a so the model sees the gap instead of a silent drop.
func (s *Snapshot) Summary() string {
	if s == nil {
		return "not available"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s price=%.4f", s.Coin, s.CurrentPrice)
	appendMetric(&sb, "ema10", s.EMA10, "%.4f")
	appendMetric(&sb, "ema20", s.EMA20, "%.4f")
	appendMetric(&sb, "funding_latest", s.FundingLast, "%.6f")
	appendMetric(&sb, "funding_avg", s.FundingAvg, "%.6f")
	appendMetric(&sb, "volatility", s.Volatility, "%.6f")
	appendMetric(&sb, "volume_24h", s.Volume24h, "%.2f")
	appendMetric(&sb, "open_interest", s.OpenInterest, "%.2f")
	appendMetric(&sb, "buy_pressure", s.BuyPressure, "%.1f%%")
	appendMetric(&sb, "net_volume", s.NetVolume, "%.2f")
	return sb.String()
}

func appendMetric(sb *strings.Builder, name string, value *float64, format string) {
	if value == nil {
		fmt.Fprintf(sb, " %s=n/a", name)
		return
	}
	fmt.Fprintf(sb, " %s="+format, name, *value)
}

// Source produces market snapshots. Implementations may fail with a
// transport error; individual sub-metrics degrade to nil instead.
type Source interface {
	GetMarketSnapshot(ctx context.Context, coin, interval string, historyHours int) (*Snapshot, error)
}
