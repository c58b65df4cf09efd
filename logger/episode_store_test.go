package logger

import (
	"context"
	"testing"
	"time"

	"github.com/auxiliary-ai/Walter/decision"
	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/market"
)

func openTestStore(t *testing.T) *EpisodeStore {
	t.Helper()
	store, err := Open(t.TempDir(), "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func buyEpisode(price float64) *Episode {
	size := 0.5
	lev := 2
	return &Episode{
		Coin: "ETH",
		Market: &market.Snapshot{
			Coin:         "ETH",
			CurrentPrice: price,
			CapturedAt:   time.Now().UTC(),
		},
		Account: &exchange.AccountSnapshot{
			AccountValue: 10000,
			Withdrawable: 8000,
			CapturedAt:   time.Now().UTC(),
		},
		Decision: decision.Decision{
			Action:     decision.ActionBuy,
			Thinking:   "momentum building",
			Size:       &size,
			Leverage:   &lev,
			TIF:        "Ioc",
			Confidence: 1.0,
			Execute:    true,
			Status:     decision.ParseStructured,
		},
		Prompt: "prompt text",
		Outcome: &exchange.Outcome{
			Submitted:       true,
			OrderID:         42,
			Size:            0.5,
			Price:           "2040.11",
			LeverageApplied: true,
		},
	}
}

func holdEpisode() *Episode {
	return &Episode{
		Coin: "ETH",
		Decision: decision.Decision{
			Action: decision.ActionHold,
			Status: decision.ParseMalformed,
		},
	}
}

func TestLogEpisodeAssignsIdentity(t *testing.T) {
	store := openTestStore(t)

	e := buyEpisode(2000)
	if err := store.LogEpisode(context.Background(), e); err != nil {
		t.Fatalf("failed to log episode: %v", err)
	}
	if e.ID == "" {
		t.Fatal("episode ID not assigned")
	}
	if e.CycleNumber != 1 {
		t.Fatalf("cycle number: got %d, want 1", e.CycleNumber)
	}

	e2 := holdEpisode()
	if err := store.LogEpisode(context.Background(), e2); err != nil {
		t.Fatalf("failed to log second episode: %v", err)
	}
	if e2.CycleNumber != 2 {
		t.Fatalf("second cycle number: got %d, want 2", e2.CycleNumber)
	}
}

func TestRecentWindowAscending(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		e := buyEpisode(1000 + float64(i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.LogEpisode(context.Background(), e); err != nil {
			t.Fatalf("failed to log episode %d: %v", i, err)
		}
	}

	episodes, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("failed to read recent: %v", err)
	}
	if len(episodes) != 5 {
		t.Fatalf("window size: got %d, want 5", len(episodes))
	}
	// Newest 5 of 7, oldest first: prices 1002..1006.
	if episodes[0].Market == nil || episodes[0].Market.CurrentPrice != 1002 {
		t.Fatalf("window start: got %+v, want price 1002", episodes[0].Market)
	}
	if episodes[4].Market.CurrentPrice != 1006 {
		t.Fatalf("window end: got price %v, want 1006", episodes[4].Market.CurrentPrice)
	}
	for i := 1; i < len(episodes); i++ {
		if episodes[i].CreatedAt.Before(episodes[i-1].CreatedAt) {
			t.Fatal("window not in chronological ascending order")
		}
	}
}

func TestRoundTripPreservesDecision(t *testing.T) {
	store := openTestStore(t)

	original := buyEpisode(2000)
	if err := store.LogEpisode(context.Background(), original); err != nil {
		t.Fatalf("failed to log: %v", err)
	}

	episodes, err := store.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("got %d episodes, want 1", len(episodes))
	}
	got := episodes[0]

	if got.Decision.Action != decision.ActionBuy {
		t.Fatalf("action: got %q, want buy", got.Decision.Action)
	}
	if got.Decision.Size == nil || *got.Decision.Size != 0.5 {
		t.Fatalf("size: got %v, want 0.5", got.Decision.Size)
	}
	if got.Decision.Leverage == nil || *got.Decision.Leverage != 2 {
		t.Fatalf("leverage: got %v, want 2", got.Decision.Leverage)
	}
	if got.Decision.TIF != "Ioc" {
		t.Fatalf("tif: got %q, want Ioc", got.Decision.TIF)
	}
	if !got.Decision.Execute {
		t.Fatal("execute flag lost")
	}
	if got.Decision.Status != decision.ParseStructured {
		t.Fatalf("status: got %q, want structured", got.Decision.Status)
	}
	if got.Outcome == nil || !got.Outcome.Submitted || got.Outcome.OrderID != 42 {
		t.Fatalf("outcome: got %+v, want submitted order 42", got.Outcome)
	}
	if got.Account == nil || got.Account.AccountValue != 10000 {
		t.Fatalf("account: got %+v, want equity 10000", got.Account)
	}
}

func TestHoldEpisodePersistsWithNulls(t *testing.T) {
	store := openTestStore(t)

	if err := store.LogEpisode(context.Background(), holdEpisode()); err != nil {
		t.Fatalf("failed to log hold: %v", err)
	}

	episodes, err := store.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	got := episodes[0]
	if got.Market != nil {
		t.Fatal("hold without snapshot must round-trip a nil market")
	}
	if got.Account != nil {
		t.Fatal("hold without snapshot must round-trip a nil account")
	}
	if got.Outcome != nil {
		t.Fatal("hold must round-trip a nil outcome")
	}
	if got.Decision.Size != nil || got.Decision.Leverage != nil {
		t.Fatal("hold must round-trip nil size and leverage")
	}
}

func TestWindowSatisfiesHistory(t *testing.T) {
	store := openTestStore(t)
	var _ decision.History = store

	if err := store.LogEpisode(context.Background(), buyEpisode(1500)); err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	entries, err := store.Window(context.Background(), 5)
	if err != nil {
		t.Fatalf("failed to read window: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Market == nil || entries[0].Market.CurrentPrice != 1500 {
		t.Fatalf("window entry market: got %+v, want price 1500", entries[0].Market)
	}
}

func TestCycleNumberRestoredAfterReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.LogEpisode(context.Background(), holdEpisode()); err != nil {
			t.Fatalf("failed to log: %v", err)
		}
	}
	store.Close()

	reopened, err := Open(dir, "")
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	e := holdEpisode()
	if err := reopened.LogEpisode(context.Background(), e); err != nil {
		t.Fatalf("failed to log after reopen: %v", err)
	}
	if e.CycleNumber != 4 {
		t.Fatalf("cycle number after reopen: got %d, want 4", e.CycleNumber)
	}
}

func TestStats(t *testing.T) {
	store := openTestStore(t)

	if err := store.LogEpisode(context.Background(), buyEpisode(2000)); err != nil {
		t.Fatalf("failed to log buy: %v", err)
	}
	if err := store.LogEpisode(context.Background(), holdEpisode()); err != nil {
		t.Fatalf("failed to log hold: %v", err)
	}
	failed := buyEpisode(2001)
	failed.Outcome = &exchange.Outcome{Submitted: false, ErrorMessage: "rejected"}
	if err := store.LogEpisode(context.Background(), failed); err != nil {
		t.Fatalf("failed to log failed order: %v", err)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("failed to read stats: %v", err)
	}
	if stats.TotalEpisodes != 3 {
		t.Fatalf("total: got %d, want 3", stats.TotalEpisodes)
	}
	if stats.ActionCounts[decision.ActionBuy] != 2 {
		t.Fatalf("buy count: got %d, want 2", stats.ActionCounts[decision.ActionBuy])
	}
	if stats.OrdersSubmitted != 1 {
		t.Fatalf("orders submitted: got %d, want 1", stats.OrdersSubmitted)
	}
	if stats.OrdersFailed != 1 {
		t.Fatalf("orders failed: got %d, want 1", stats.OrdersFailed)
	}
}
