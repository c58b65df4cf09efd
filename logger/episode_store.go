package logger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/auxiliary-ai/Walter/decision"
	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/market"
)

// Episode is one completed cycle: the snapshots the decision saw, the
// decision itself, and the order outcome (nil when the cycle held and no
// order was attempted). Episodes are append-only; the memory window is a
// bounded read, never a deletion.
type Episode struct {
	ID          string                    `json:"id"`
	CycleNumber int                       `json:"cycle_number"`
	CreatedAt   time.Time                 `json:"created_at"`
	Coin        string                    `json:"coin"`
	Market      *market.Snapshot          `json:"market,omitempty"`
	Account     *exchange.AccountSnapshot `json:"account,omitempty"`
	Decision    decision.Decision         `json:"decision"`
	Prompt      string                    `json:"-"`
	Outcome     *exchange.Outcome         `json:"outcome,omitempty"`
}

// EpisodeStore persists episodes to SQLite (default) or PostgreSQL when a
// connection string is configured.
type EpisodeStore struct {
	db          *sql.DB
	isPostgres  bool
	cycleNumber int
}

// Open creates the store. pgConnStr selects the PostgreSQL backend;
// otherwise a SQLite file under dataDir is used.
func Open(dataDir, pgConnStr string) (*EpisodeStore, error) {
	store := &EpisodeStore{}

	if pgConnStr != "" {
		db, err := sql.Open("postgres", pgConnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to reach PostgreSQL: %w", err)
		}
		store.db = db
		store.isPostgres = true
		log.Printf("✓ Episode store using PostgreSQL")
	} else {
		if dataDir == "" {
			dataDir = "data"
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dbPath := filepath.Join(dataDir, "episodes.db")
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// One writer; the pipeline is single-threaded per cycle anyway.
		db.SetMaxOpenConns(1)
		store.db = db
		log.Printf("✓ Episode store using SQLite at %s", dbPath)
	}

	if err := store.initSchema(); err != nil {
		store.db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.restoreCycleNumber(); err != nil {
		store.db.Close()
		return nil, fmt.Errorf("failed to restore cycle number: %w", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *EpisodeStore) Close() error {
	return s.db.Close()
}

func (s *EpisodeStore) initSchema() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestamp := "DATETIME"
	if s.isPostgres {
		serial = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
		timestamp = "TIMESTAMPTZ"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS episodes (
		row_id %s,
		id TEXT NOT NULL UNIQUE,
		cycle_number INTEGER NOT NULL,
		created_at %s NOT NULL,
		coin TEXT NOT NULL,

		market_price REAL,
		ema10 REAL,
		ema20 REAL,
		funding_latest REAL,
		funding_avg REAL,
		volatility REAL,
		volume REAL,
		open_interest REAL,
		buy_pressure REAL,
		net_volume REAL,
		market_captured_at %s,

		account_value REAL,
		total_ntl_pos REAL,
		total_raw_usd REAL,
		total_margin_used REAL,
		withdrawable REAL,

		action TEXT NOT NULL,
		thinking TEXT,
		confidence REAL NOT NULL,
		size REAL,
		leverage INTEGER,
		tif TEXT,
		executed BOOLEAN NOT NULL,
		parse_status TEXT,
		parse_note TEXT,
		raw_response TEXT,
		prompt TEXT,

		order_submitted BOOLEAN,
		order_id BIGINT,
		order_size REAL,
		order_price TEXT,
		leverage_applied BOOLEAN,
		order_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_created_at ON episodes(created_at);
	CREATE INDEX IF NOT EXISTS idx_episodes_coin_time ON episodes(coin, created_at);
	`, serial, timestamp, timestamp)

	_, err := s.db.Exec(schema)
	return err
}

// restoreCycleNumber resumes numbering after a restart.
func (s *EpisodeStore) restoreCycleNumber() error {
	var max sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(cycle_number) FROM episodes").Scan(&max); err != nil {
		return err
	}
	if max.Valid {
		s.cycleNumber = int(max.Int64)
		log.Printf("✓ Restored cycle number: continuing from #%d", s.cycleNumber+1)
	}
	return nil
}

// rebind converts ?-placeholders to $n for PostgreSQL.
func (s *EpisodeStore) rebind(query string) string {
	if !s.isPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// LogEpisode appends one episode, assigning its ID and cycle number. Hold
// cycles persist with null order fields for audit continuity.
func (s *EpisodeStore) LogEpisode(ctx context.Context, e *Episode) error {
	s.cycleNumber++
	e.CycleNumber = s.cycleNumber
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var (
		marketPrice, ema10, ema20, fundingLatest, fundingAvg *float64
		volatility, volume, openInterest, buyPressure        *float64
		netVolume                                            *float64
		marketCapturedAt                                     *time.Time
	)
	if e.Market != nil {
		marketPrice = &e.Market.CurrentPrice
		ema10 = e.Market.EMA10
		ema20 = e.Market.EMA20
		fundingLatest = e.Market.FundingLast
		fundingAvg = e.Market.FundingAvg
		volatility = e.Market.Volatility
		volume = e.Market.Volume24h
		openInterest = e.Market.OpenInterest
		buyPressure = e.Market.BuyPressure
		netVolume = e.Market.NetVolume
		marketCapturedAt = &e.Market.CapturedAt
	}

	var accountValue, totalNtlPos, totalRawUSD, totalMarginUsed, withdrawable *float64
	if e.Account != nil {
		accountValue = &e.Account.AccountValue
		totalNtlPos = &e.Account.TotalNtlPos
		totalRawUSD = &e.Account.TotalRawUSD
		totalMarginUsed = &e.Account.TotalMarginUsed
		withdrawable = &e.Account.Withdrawable
	}

	var (
		orderSubmitted, leverageApplied *bool
		orderID                         *int64
		orderSize                       *float64
		orderPrice, orderError          *string
	)
	if e.Outcome != nil {
		orderSubmitted = &e.Outcome.Submitted
		leverageApplied = &e.Outcome.LeverageApplied
		if e.Outcome.OrderID != 0 {
			orderID = &e.Outcome.OrderID
		}
		orderSize = &e.Outcome.Size
		if e.Outcome.Price != "" {
			orderPrice = &e.Outcome.Price
		}
		if e.Outcome.ErrorMessage != "" {
			orderError = &e.Outcome.ErrorMessage
		}
	}

	query := s.rebind(`
	INSERT INTO episodes (
		id, cycle_number, created_at, coin,
		market_price, ema10, ema20, funding_latest, funding_avg,
		volatility, volume, open_interest, buy_pressure, net_volume, market_captured_at,
		account_value, total_ntl_pos, total_raw_usd, total_margin_used, withdrawable,
		action, thinking, confidence, size, leverage, tif, executed,
		parse_status, parse_note, raw_response, prompt,
		order_submitted, order_id, order_size, order_price, leverage_applied, order_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.CycleNumber, e.CreatedAt, e.Coin,
		marketPrice, ema10, ema20, fundingLatest, fundingAvg,
		volatility, volume, openInterest, buyPressure, netVolume, marketCapturedAt,
		accountValue, totalNtlPos, totalRawUSD, totalMarginUsed, withdrawable,
		e.Decision.Action, e.Decision.Thinking, e.Decision.Confidence,
		e.Decision.Size, e.Decision.Leverage, e.Decision.TIF, e.Decision.Execute,
		string(e.Decision.Status), e.Decision.StatusNote, e.Decision.RawResponse, e.Prompt,
		orderSubmitted, orderID, orderSize, orderPrice, leverageApplied, orderError,
	)
	if err != nil {
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// Recent returns the latest episodes in chronological ascending order
// (oldest first, newest last), bounded by limit.
func (s *EpisodeStore) Recent(ctx context.Context, limit int) ([]*Episode, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Fetch newest-first with LIMIT, then reverse: persistence orders by
	// time, so no in-memory rotating buffer is needed.
	query := s.rebind(`
	SELECT id, cycle_number, created_at, coin,
		market_price, ema10, ema20, funding_latest, funding_avg,
		volatility, volume, open_interest, buy_pressure, net_volume, market_captured_at,
		account_value, total_ntl_pos, total_raw_usd, total_margin_used, withdrawable,
		action, thinking, confidence, size, leverage, tif, executed,
		parse_status, parse_note, raw_response,
		order_submitted, order_id, order_size, order_price, leverage_applied, order_error
	FROM episodes
	ORDER BY created_at DESC, cycle_number DESC
	LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into ascending order.
	for i, j := 0, len(episodes)-1; i < j; i, j = i+1, j-1 {
		episodes[i], episodes[j] = episodes[j], episodes[i]
	}
	return episodes, nil
}

// Window satisfies decision.History: the bounded memory window exposed to
// the prompt builder.
func (s *EpisodeStore) Window(ctx context.Context, limit int) ([]decision.MemoryEntry, error) {
	episodes, err := s.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]decision.MemoryEntry, 0, len(episodes))
	for _, e := range episodes {
		entries = append(entries, decision.MemoryEntry{
			Market:    e.Market,
			Account:   e.Account,
			Decision:  e.Decision,
			CreatedAt: e.CreatedAt,
		})
	}
	return entries, nil
}

// Stats summarizes stored episodes for the status API.
type Stats struct {
	TotalEpisodes   int            `json:"total_episodes"`
	ActionCounts    map[string]int `json:"action_counts"`
	OrdersSubmitted int            `json:"orders_submitted"`
	OrdersFailed    int            `json:"orders_failed"`
}

// Stats aggregates counts over the full episode log.
func (s *EpisodeStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ActionCounts: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT action, COUNT(*) FROM episodes GROUP BY action")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.ActionCounts[action] = count
		stats.TotalEpisodes += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	submitted := s.rebind("SELECT COUNT(*) FROM episodes WHERE order_submitted = ?")
	if err := s.db.QueryRowContext(ctx, submitted, true).Scan(&stats.OrdersSubmitted); err != nil {
		return nil, err
	}
	failed := s.rebind("SELECT COUNT(*) FROM episodes WHERE order_submitted = ?")
	if err := s.db.QueryRowContext(ctx, failed, false).Scan(&stats.OrdersFailed); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanEpisode(rows *sql.Rows) (*Episode, error) {
	var (
		e                Episode
		createdAt        time.Time
		marketPrice      sql.NullFloat64
		ema10, ema20     sql.NullFloat64
		fundingLatest    sql.NullFloat64
		fundingAvg       sql.NullFloat64
		volatility       sql.NullFloat64
		volume           sql.NullFloat64
		openInterest     sql.NullFloat64
		buyPressure      sql.NullFloat64
		netVolume        sql.NullFloat64
		marketCapturedAt sql.NullTime
		accountValue     sql.NullFloat64
		totalNtlPos      sql.NullFloat64
		totalRawUSD      sql.NullFloat64
		totalMarginUsed  sql.NullFloat64
		withdrawable     sql.NullFloat64
		thinking         sql.NullString
		size             sql.NullFloat64
		leverage         sql.NullInt64
		tif              sql.NullString
		parseStatus      sql.NullString
		parseNote        sql.NullString
		rawResponse      sql.NullString
		orderSubmitted   sql.NullBool
		orderID          sql.NullInt64
		orderSize        sql.NullFloat64
		orderPrice       sql.NullString
		leverageApplied  sql.NullBool
		orderError       sql.NullString
	)

	if err := rows.Scan(
		&e.ID, &e.CycleNumber, &createdAt, &e.Coin,
		&marketPrice, &ema10, &ema20, &fundingLatest, &fundingAvg,
		&volatility, &volume, &openInterest, &buyPressure, &netVolume, &marketCapturedAt,
		&accountValue, &totalNtlPos, &totalRawUSD, &totalMarginUsed, &withdrawable,
		&e.Decision.Action, &thinking, &e.Decision.Confidence, &size, &leverage, &tif, &e.Decision.Execute,
		&parseStatus, &parseNote, &rawResponse,
		&orderSubmitted, &orderID, &orderSize, &orderPrice, &leverageApplied, &orderError,
	); err != nil {
		return nil, fmt.Errorf("failed to scan episode: %w", err)
	}

	e.CreatedAt = createdAt
	if marketPrice.Valid {
		e.Market = &market.Snapshot{
			Coin:         e.Coin,
			CurrentPrice: marketPrice.Float64,
			EMA10:        nullFloat(ema10),
			EMA20:        nullFloat(ema20),
			FundingLast:  nullFloat(fundingLatest),
			FundingAvg:   nullFloat(fundingAvg),
			Volatility:   nullFloat(volatility),
			Volume24h:    nullFloat(volume),
			OpenInterest: nullFloat(openInterest),
			BuyPressure:  nullFloat(buyPressure),
			NetVolume:    nullFloat(netVolume),
		}
		if marketCapturedAt.Valid {
			e.Market.CapturedAt = marketCapturedAt.Time
		}
	}
	if accountValue.Valid {
		e.Account = &exchange.AccountSnapshot{
			AccountValue:    accountValue.Float64,
			TotalNtlPos:     totalNtlPos.Float64,
			TotalRawUSD:     totalRawUSD.Float64,
			TotalMarginUsed: totalMarginUsed.Float64,
			Withdrawable:    withdrawable.Float64,
			CapturedAt:      createdAt,
		}
	}

	e.Decision.Thinking = thinking.String
	e.Decision.Size = nullFloat(size)
	if leverage.Valid {
		lev := int(leverage.Int64)
		e.Decision.Leverage = &lev
	}
	e.Decision.TIF = tif.String
	e.Decision.Status = decision.ParseStatus(parseStatus.String)
	e.Decision.StatusNote = parseNote.String
	e.Decision.RawResponse = rawResponse.String

	if orderSubmitted.Valid {
		e.Outcome = &exchange.Outcome{
			Submitted:       orderSubmitted.Bool,
			Coin:            e.Coin,
			IsBuy:           e.Decision.Action == decision.ActionBuy,
			LeverageApplied: leverageApplied.Bool,
		}
		if orderID.Valid {
			e.Outcome.OrderID = orderID.Int64
		}
		if orderSize.Valid {
			e.Outcome.Size = orderSize.Float64
		}
		e.Outcome.Price = orderPrice.String
		e.Outcome.ErrorMessage = orderError.String
	}

	return &e, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
