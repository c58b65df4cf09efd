package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/auxiliary-ai/Walter/api"
	"github.com/auxiliary-ai/Walter/config"
	"github.com/auxiliary-ai/Walter/decision"
	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/logger"
	"github.com/auxiliary-ai/Walter/market"
	"github.com/auxiliary-ai/Walter/mcp"
	"github.com/auxiliary-ai/Walter/trader"
)

func main() {
	// .env.local wins over .env; both are optional.
	if err := godotenv.Load(".env.local"); err == nil {
		log.Printf("✓ Loaded .env.local")
	} else if err := godotenv.Load(); err == nil {
		log.Printf("✓ Loaded .env")
	}

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if cfg.BinanceAPIKey == "" || cfg.BinanceSecretKey == "" {
		log.Fatalf("❌ BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
	}

	model := newModelClient(cfg)

	exchangeClient := exchange.NewFuturesClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	marketSrc := market.NewBinanceSource(cfg.BinanceAPIKey, cfg.BinanceSecretKey)

	store, err := logger.Open(cfg.DataDir, cfg.PGConnStr)
	if err != nil {
		log.Fatalf("❌ Failed to open episode store: %v", err)
	}
	defer store.Close()

	parser := decision.NewParser(cfg.BuyTokens, cfg.SellTokens, cfg.ConfidenceThreshold)
	prompts := decision.NewPromptBuilder(cfg.HistoryWindowSize)
	engine := decision.NewEngine(parser, prompts, model, store)
	executor := exchange.NewExecutor(exchangeClient, cfg.PriceOffsetPct, cfg.DefaultTIF)

	autoTrader := trader.New(cfg, engine, executor, marketSrc, exchangeClient, store, nil)

	server := api.NewServer(store, cfg.APIServerPort)
	go func() {
		if err := server.Run(); err != nil {
			log.Printf("❌ Status API stopped: %v", err)
		}
	}()

	go autoTrader.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("✓ Received %s, shutting down after current cycle", sig)

	// Stop waits for the in-flight cycle, so the episode write completes
	// before the store closes.
	autoTrader.Stop()
}

func newModelClient(cfg *config.Config) *mcp.Client {
	client := mcp.New()
	client.Timeout = cfg.RequestTimeout()

	switch cfg.LLMProvider {
	case "deepseek":
		client.SetDeepSeekAPIKey(cfg.LLMAPIKey)
	case "groq":
		client.SetGroqAPIKey(cfg.LLMAPIKey, cfg.LLMModel)
	case "custom":
		client.SetCustomAPI(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel)
	default:
		client.SetOpenRouterKey(cfg.LLMAPIKey, cfg.LLMModel)
	}

	if cfg.LLMAPIKey == "" {
		log.Printf("⚠️  No model API key configured; every cycle will fail at the model call")
	}
	log.Printf("✓ Model client: provider=%s model=%s", client.Provider, client.Model)
	return client
}
