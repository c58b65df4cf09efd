// Package trader runs the periodic decision loop: snapshot, decide,
// execute, persist.
package trader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/auxiliary-ai/Walter/config"
	"github.com/auxiliary-ai/Walter/decision"
	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/logger"
	"github.com/auxiliary-ai/Walter/market"
	"github.com/auxiliary-ai/Walter/metrics"
)

// NewsSource supplies an optional pre-aggregated narrative digest for the
// prompt. A nil source or an error simply leaves the digest out.
type NewsSource interface {
	Digest(ctx context.Context, coin string) (string, error)
}

// AutoTrader is the scheduler shell around the decision pipeline. Cycles
// run strictly one at a time; a stop request is observed between cycles,
// never mid-cycle, so the episode write for an in-flight cycle always
// completes.
type AutoTrader struct {
	cfg       *config.Config
	engine    *decision.Engine
	executor  *exchange.Executor
	marketSrc market.Source
	client    exchange.Client
	store     *logger.EpisodeStore
	news      NewsSource

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New wires the scheduler. news may be nil.
func New(cfg *config.Config, engine *decision.Engine, executor *exchange.Executor, marketSrc market.Source, client exchange.Client, store *logger.EpisodeStore, news NewsSource) *AutoTrader {
	return &AutoTrader{
		cfg:       cfg,
		engine:    engine,
		executor:  executor,
		marketSrc: marketSrc,
		client:    client,
		store:     store,
		news:      news,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes the first cycle immediately, then one cycle per interval
// until Stop is called. Cycle errors are logged and retried on the next
// tick; they never terminate the loop.
func (t *AutoTrader) Run() {
	defer close(t.doneCh)

	log.Printf("✓ Auto trader started: coin=%s interval=%s window=%d threshold=%.2f",
		t.cfg.Coin, t.cfg.SchedulerInterval(), t.cfg.HistoryWindowSize, t.cfg.ConfidenceThreshold)

	if err := t.runCycle(); err != nil {
		log.Printf("❌ Cycle failed: %v", err)
	}

	ticker := time.NewTicker(t.cfg.SchedulerInterval())
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			log.Printf("✓ Auto trader stopped")
			return
		case <-ticker.C:
			if err := t.runCycle(); err != nil {
				log.Printf("❌ Cycle failed: %v", err)
			}
		}
	}
}

// Stop requests shutdown and blocks until the loop exits. The in-flight
// cycle, if any, finishes first.
func (t *AutoTrader) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// runCycle performs one snapshot -> decide -> execute -> persist pass.
// A returned error means no episode was recorded this cycle.
func (t *AutoTrader) runCycle() error {
	started := time.Now()
	defer func() {
		metrics.CycleDurationSeconds.Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout())
	defer cancel()

	mkt, err := t.marketSrc.GetMarketSnapshot(ctx, t.cfg.Coin, t.cfg.CandleInterval, t.cfg.HistoryHours)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues("market_snapshot").Inc()
		return fmt.Errorf("market snapshot: %w", err)
	}

	acct, err := t.client.GetAccountState(ctx)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues("account_snapshot").Inc()
		return fmt.Errorf("account snapshot: %w", err)
	}

	newsDigest := ""
	if t.news != nil {
		digest, err := t.news.Digest(ctx, t.cfg.Coin)
		if err != nil {
			log.Printf("⚠️  News digest unavailable: %v", err)
		} else {
			newsDigest = digest
		}
	}

	dec, prompt, err := t.engine.Decide(ctx, mkt, acct, newsDigest)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues("model_transport").Inc()
		return fmt.Errorf("decide: %w", err)
	}
	metrics.DecisionsTotal.WithLabelValues(dec.Action, string(dec.Status)).Inc()

	log.Printf("✓ Decision: %s (confidence=%.2f execute=%v status=%s)",
		dec.Action, dec.Confidence, dec.Execute, dec.Status)

	var outcome *exchange.Outcome
	if dec.Execute {
		outcome = t.placeOrder(ctx, dec)
	}

	episode := &logger.Episode{
		Coin:     t.cfg.Coin,
		Market:   mkt,
		Account:  acct,
		Decision: dec,
		Prompt:   prompt,
		Outcome:  outcome,
	}
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()
	if err := t.store.LogEpisode(persistCtx, episode); err != nil {
		return fmt.Errorf("persist episode: %w", err)
	}
	return nil
}

// placeOrder translates an executable decision into an order. Failures
// come back inside the Outcome; the episode is recorded either way.
func (t *AutoTrader) placeOrder(ctx context.Context, dec decision.Decision) *exchange.Outcome {
	tif := dec.TIF
	if tif == "" {
		tif = t.cfg.DefaultTIF
	}
	req := exchange.OrderRequest{
		Coin:     t.cfg.Coin,
		IsBuy:    dec.Action == decision.ActionBuy,
		Size:     *dec.Size,
		Leverage: *dec.Leverage,
		TIF:      tif,
	}

	outcome, err := t.executor.Execute(ctx, req)
	if err != nil {
		log.Printf("❌ Order failed: %v", err)
	}
	if outcome.Submitted {
		side := "sell"
		if req.IsBuy {
			side = "buy"
		}
		metrics.OrdersSubmittedTotal.WithLabelValues(side).Inc()
	} else {
		metrics.OrderFailuresTotal.Inc()
	}
	return outcome
}
