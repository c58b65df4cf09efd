package market

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/markcheno/go-talib"
)

const (
	emaShortPeriod = 10
	emaLongPeriod  = 20
	tradeSample    = 500 // recent trades used for buy/sell pressure
)

// BinanceSource builds snapshots from Binance USDT-M futures market data.
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource creates a snapshot source. Market data endpoints are
// public; keys are only needed when sharing a client with trading calls.
func NewBinanceSource(apiKey, secretKey string) *BinanceSource {
	return &BinanceSource{client: futures.NewClient(apiKey, secretKey)}
}

// GetMarketSnapshot collects the market overview for one coin. Price and
// candles are required; every other metric degrades to nil on failure so a
// flaky sub-endpoint does not kill the cycle.
func (s *BinanceSource) GetMarketSnapshot(ctx context.Context, coin, interval string, historyHours int) (*Snapshot, error) {
	symbol := futuresSymbol(coin)

	// 1. Current price.
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price returned for %s", symbol)
	}
	currentPrice, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}

	snapshot := &Snapshot{
		Coin:         coin,
		CurrentPrice: currentPrice,
		CapturedAt:   time.Now().UTC(),
	}

	// 2. Candles: EMAs, realized volatility, traded volume.
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(24).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", symbol, err)
	}
	closes := make([]float64, 0, len(klines))
	var volume float64
	for _, k := range klines {
		c, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			continue
		}
		closes = append(closes, c)
		if v, err := strconv.ParseFloat(k.Volume, 64); err == nil {
			volume += v
		}
	}
	snapshot.Volume24h = &volume
	if len(closes) >= emaShortPeriod {
		ema := talib.Ema(closes, emaShortPeriod)
		snapshot.EMA10 = &ema[len(ema)-1]
	}
	if len(closes) >= emaLongPeriod {
		ema := talib.Ema(closes, emaLongPeriod)
		snapshot.EMA20 = &ema[len(ema)-1]
	}
	if vol, ok := realizedVolatility(closes); ok {
		snapshot.Volatility = &vol
	}

	// 3. Funding: latest from the premium index, average over the window.
	if premium, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx); err == nil && len(premium) > 0 {
		if latest, err := strconv.ParseFloat(premium[0].LastFundingRate, 64); err == nil {
			snapshot.FundingLast = &latest
		}
	} else if err != nil {
		log.Printf("⚠️  %s: funding premium index unavailable: %v", symbol, err)
	}
	if history, err := s.client.NewFundingRateService().Symbol(symbol).Limit(maxInt(historyHours, 1)).Do(ctx); err == nil && len(history) > 0 {
		var sum float64
		var n int
		for _, f := range history {
			if rate, err := strconv.ParseFloat(f.FundingRate, 64); err == nil {
				sum += rate
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			snapshot.FundingAvg = &avg
		}
	} else if err != nil {
		log.Printf("⚠️  %s: funding history unavailable: %v", symbol, err)
	}

	// 4. Open interest.
	if oi, err := s.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx); err == nil {
		if v, err := strconv.ParseFloat(oi.OpenInterest, 64); err == nil {
			snapshot.OpenInterest = &v
		}
	} else {
		log.Printf("⚠️  %s: open interest unavailable: %v", symbol, err)
	}

	// 5. Recent trades: taker buy/sell pressure and net signed volume.
	if trades, err := s.client.NewAggTradesService().Symbol(symbol).Limit(tradeSample).Do(ctx); err == nil && len(trades) > 0 {
		var buyVolume, sellVolume float64
		for _, trade := range trades {
			size, err := strconv.ParseFloat(trade.Quantity, 64)
			if err != nil {
				continue
			}
			if trade.IsBuyerMaker {
				// Taker hit the bid: a sell.
				sellVolume += size
			} else {
				buyVolume += size
			}
		}
		if total := buyVolume + sellVolume; total > 0 {
			pressure := buyVolume / total * 100
			net := buyVolume - sellVolume
			snapshot.BuyPressure = &pressure
			snapshot.NetVolume = &net
		}
	} else if err != nil {
		log.Printf("⚠️  %s: recent trades unavailable: %v", symbol, err)
	}

	return snapshot, nil
}

// realizedVolatility is the standard deviation of close-to-close returns.
func realizedVolatility(closes []float64) (float64, bool) {
	if len(closes) < 3 {
		return 0, false
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0, false
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance), true
}

func futuresSymbol(coin string) string {
	symbol := strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
