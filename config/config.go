package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the explicit configuration for the trading loop. Everything
// the pipeline needs is enumerated here; no package reads the environment
// on its own. Secrets come from the environment (loaded from .env by the
// shell), non-secret settings from config.json.
type Config struct {
	// Instrument and scheduling
	Coin                     string `json:"coin"`
	CandleInterval           string `json:"candle_interval"`
	HistoryHours             int    `json:"history_hours"`
	SchedulerIntervalSeconds int    `json:"scheduler_interval_seconds"`

	// Decision pipeline
	HistoryWindowSize     int      `json:"history_window_size"`
	ConfidenceThreshold   float64  `json:"confidence_threshold"`
	BuyTokens             []string `json:"buy_tokens"`
	SellTokens            []string `json:"sell_tokens"`
	PriceOffsetPct        float64  `json:"price_offset_pct"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
	DefaultTIF            string   `json:"default_tif"`

	// Model provider: "openrouter", "deepseek", "groq" or "custom"
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
	LLMAPIURL   string `json:"llm_api_url,omitempty"` // custom provider only
	LLMAPIKey   string `json:"-"`                     // env only, never in the file

	// Exchange credentials (env only)
	BinanceAPIKey    string `json:"-"`
	BinanceSecretKey string `json:"-"`

	// Persistence: SQLite under DataDir by default, PostgreSQL when
	// PGConnStr is set.
	DataDir   string `json:"data_dir"`
	PGConnStr string `json:"-"`

	APIServerPort int `json:"api_server_port"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Coin:                     "ETH",
		CandleInterval:           "1h",
		HistoryHours:             24,
		SchedulerIntervalSeconds: 60,
		HistoryWindowSize:        5,
		ConfidenceThreshold:      0.55,
		BuyTokens:                []string{"buy", "long"},
		SellTokens:               []string{"sell", "short"},
		PriceOffsetPct:           0.02,
		RequestTimeoutSeconds:    120,
		DefaultTIF:               "Ioc",
		LLMProvider:              "openrouter",
		LLMModel:                 "openai/gpt-oss-20b:free",
		DataDir:                  "data",
		APIServerPort:            8080,
	}
}

// Load reads configuration from filename (optional; defaults apply when
// the file is missing) and overlays environment variables.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COIN"); v != "" {
		c.Coin = v
	}
	if v := os.Getenv("SCHEDULER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SchedulerIntervalSeconds = n
		}
	}
	if v := os.Getenv("LLM_HISTORY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HistoryWindowSize = n
		}
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLMModel = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.BinanceAPIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.BinanceSecretKey = v
	}
	if v := os.Getenv("PG_CONN_STR"); v != "" {
		c.PGConnStr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.APIServerPort = n
		}
	}
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Coin) == "" {
		return fmt.Errorf("coin must be set")
	}
	if c.SchedulerIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler_interval_seconds must be positive")
	}
	if c.HistoryWindowSize <= 0 {
		return fmt.Errorf("history_window_size must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1]")
	}
	if c.PriceOffsetPct < 0 || c.PriceOffsetPct >= 1 {
		return fmt.Errorf("price_offset_pct must be in [0, 1)")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	switch c.LLMProvider {
	case "openrouter", "deepseek", "groq", "custom":
	default:
		return fmt.Errorf("llm_provider must be 'openrouter', 'deepseek', 'groq' or 'custom'")
	}
	if c.LLMProvider == "custom" && c.LLMAPIURL == "" {
		return fmt.Errorf("llm_api_url must be set for the custom provider")
	}
	return nil
}

// SchedulerInterval returns the cycle interval as a duration.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

// RequestTimeout bounds each external call (model and exchange).
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
