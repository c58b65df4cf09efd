package exchange

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// FuturesClient implements Client against Binance USDT-M futures.
type FuturesClient struct {
	client *futures.Client

	// Exchange info cache. Trading rules change rarely; refetching them on
	// every order wastes a round trip per cycle.
	metaCache     map[string]*AssetMetadata
	metaCacheTime time.Time
	metaCacheTTL  time.Duration
	metaMutex     sync.RWMutex
}

// NewFuturesClient creates the Binance futures transport.
func NewFuturesClient(apiKey, secretKey string) *FuturesClient {
	client := futures.NewClient(apiKey, secretKey)

	// Log clock drift up front; a skewed clock is the most common cause of
	// signed-request rejections.
	if serverTime, err := client.NewServerTimeService().Do(context.Background()); err == nil {
		offset := serverTime - time.Now().UnixMilli()
		if offset > 1000 || offset < -1000 {
			log.Printf("⚠️  Clock offset vs Binance server: %d ms — sync the system clock if requests fail", offset)
		}
	} else {
		log.Printf("⚠️  Failed to get Binance server time: %v (continuing)", err)
	}

	return &FuturesClient{
		client:       client,
		metaCache:    make(map[string]*AssetMetadata),
		metaCacheTTL: 10 * time.Minute,
	}
}

// symbolFor maps a bare coin name to the USDT-M futures symbol ("ETH" ->
// "ETHUSDT"). Already-qualified symbols pass through.
func symbolFor(coin string) string {
	symbol := strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

// GetAccountState returns the account snapshot for the current cycle.
func (c *FuturesClient) GetAccountState(ctx context.Context) (*AccountSnapshot, error) {
	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}

	equity, _ := strconv.ParseFloat(account.TotalMarginBalance, 64)
	wallet, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	marginUsed, _ := strconv.ParseFloat(account.TotalInitialMargin, 64)
	withdrawable, _ := strconv.ParseFloat(account.MaxWithdrawAmount, 64)

	var totalNotional float64
	for _, pos := range account.Positions {
		notional, _ := strconv.ParseFloat(pos.Notional, 64)
		if notional < 0 {
			notional = -notional
		}
		totalNotional += notional
	}

	return &AccountSnapshot{
		AccountValue:    equity,
		TotalNtlPos:     totalNotional,
		TotalRawUSD:     wallet,
		TotalMarginUsed: marginUsed,
		Withdrawable:    withdrawable,
		CapturedAt:      time.Now().UTC(),
	}, nil
}

// GetAssetMetadata resolves tick size and size precision for a coin from
// the exchange trading rules. Unknown coins are a domain error.
func (c *FuturesClient) GetAssetMetadata(ctx context.Context, coin string) (*AssetMetadata, error) {
	symbol := symbolFor(coin)

	c.metaMutex.RLock()
	if meta, ok := c.metaCache[symbol]; ok && time.Since(c.metaCacheTime) < c.metaCacheTTL {
		c.metaMutex.RUnlock()
		return meta, nil
	}
	c.metaMutex.RUnlock()

	exchangeInfo, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	c.metaMutex.Lock()
	c.metaCache = make(map[string]*AssetMetadata, len(exchangeInfo.Symbols))
	c.metaCacheTime = time.Now()
	for _, s := range exchangeInfo.Symbols {
		meta := &AssetMetadata{Coin: s.Symbol, SizeDecimals: 3}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "PRICE_FILTER":
				if tickStr, ok := filter["tickSize"].(string); ok {
					if tick, err := decimal.NewFromString(tickStr); err == nil {
						meta.TickSize = tick
					}
				}
			case "LOT_SIZE":
				if stepStr, ok := filter["stepSize"].(string); ok {
					meta.SizeDecimals = int32(precisionFromStep(stepStr))
				}
			}
		}
		c.metaCache[s.Symbol] = meta
	}
	meta, ok := c.metaCache[symbol]
	c.metaMutex.Unlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", coin, ErrUnknownCoin)
	}
	if meta.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("%s: %w", coin, ErrNoTickSize)
	}
	return meta, nil
}

// GetBookSnapshot returns the current top of book for a coin.
func (c *FuturesClient) GetBookSnapshot(ctx context.Context, coin string) (*BookSnapshot, error) {
	symbol := symbolFor(coin)
	depth, err := c.client.NewDepthService().Symbol(symbol).Limit(5).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book for %s: %w", symbol, err)
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return nil, fmt.Errorf("%s: %w", coin, ErrEmptyBook)
	}

	bid, err := decimal.NewFromString(depth.Bids[0].Price)
	if err != nil {
		return nil, fmt.Errorf("parse best bid %q: %w", depth.Bids[0].Price, err)
	}
	ask, err := decimal.NewFromString(depth.Asks[0].Price)
	if err != nil {
		return nil, fmt.Errorf("parse best ask %q: %w", depth.Asks[0].Price, err)
	}

	return &BookSnapshot{
		Coin:       coin,
		BestBid:    bid,
		BestAsk:    ask,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// UpdateLeverage switches the leverage multiplier for a coin.
func (c *FuturesClient) UpdateLeverage(ctx context.Context, coin string, leverage int) error {
	symbol := symbolFor(coin)
	_, err := c.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		// Binance rejects a no-op leverage change with this message; the
		// leverage is already at the requested value.
		if strings.Contains(err.Error(), "No need to change") {
			log.Printf("  ✓ %s leverage already %dx", symbol, leverage)
			return nil
		}
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	log.Printf("  ✓ %s leverage switched to %dx", symbol, leverage)
	return nil
}

// SubmitOrder places a limit order with the given price and time in force.
func (c *FuturesClient) SubmitOrder(ctx context.Context, coin string, isBuy bool, size, price, tif string, reduceOnly bool) (int64, error) {
	symbol := symbolFor(coin)

	side := futures.SideTypeSell
	if isBuy {
		side = futures.SideTypeBuy
	}

	order, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(timeInForceFor(tif)).
		Quantity(size).
		Price(price).
		ReduceOnly(reduceOnly).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to place order: %w", err)
	}
	return order.OrderID, nil
}

// timeInForceFor maps the canonical single-capitalized TIF codes onto the
// Binance constants. Unknown codes fall back to immediate-or-cancel, the
// safe choice for an offset-priced order meant to cross the book once.
func timeInForceFor(tif string) futures.TimeInForceType {
	switch strings.ToLower(tif) {
	case "gtc":
		return futures.TimeInForceTypeGTC
	case "fok":
		return futures.TimeInForceTypeFOK
	case "gtx":
		return futures.TimeInForceTypeGTX
	default:
		return futures.TimeInForceTypeIOC
	}
}

// precisionFromStep derives the quantity precision from a LOT_SIZE step
// ("0.001" -> 3, "1" -> 0).
func precisionFromStep(step string) int {
	step = strings.TrimRight(step, "0")
	step = strings.TrimRight(step, ".")
	dot := strings.Index(step, ".")
	if dot == -1 {
		return 0
	}
	return len(step) - dot - 1
}
