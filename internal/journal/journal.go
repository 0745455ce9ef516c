// Package journal persists every executed trade to SQLite and builds the
// end-of-day report from it. The journal is the durable record; in-memory
// state can always be rebuilt from the broker plus this table.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"rebound-trader/internal/markethours"
	"rebound-trader/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the trade journal.
type Config struct {
	DBPath string // e.g. "data/trades.db"
}

// Journal is a single-writer SQLite trade log.
type Journal struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Open opens (or creates) the journal database with WAL mode and schema.
func Open(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened database at %s", cfg.DBPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			order_no    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			name        TEXT,
			side        TEXT    NOT NULL,
			qty         INTEGER NOT NULL,
			price       INTEGER NOT NULL,
			reason      TEXT,
			profit_amt  INTEGER NOT NULL DEFAULT 0,
			profit_rate REAL    NOT NULL DEFAULT 0,
			executed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	`)
	return err
}

// Record appends one executed trade.
func (j *Journal) Record(ctx context.Context, t model.Trade) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (order_no, symbol, name, side, qty, price, reason, profit_amt, profit_rate, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderNo, t.Symbol, t.Name, string(t.Side), t.Qty, t.Price, t.Reason, t.ProfitAmt, t.ProfitRate, t.ExecutedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// TradesOn returns all trades executed on the given KST calendar day,
// oldest first.
func (j *Journal) TradesOn(ctx context.Context, day time.Time) ([]model.Trade, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, markethours.KST)
	end := start.AddDate(0, 0, 1)

	rows, err := j.db.QueryContext(ctx, `
		SELECT order_no, symbol, name, side, qty, price, reason, profit_amt, profit_rate, executed_at
		FROM trades
		WHERE executed_at >= ? AND executed_at < ?
		ORDER BY executed_at ASC`,
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var ts int64
		if err := rows.Scan(&t.OrderNo, &t.Symbol, &t.Name, &side, &t.Qty, &t.Price, &t.Reason, &t.ProfitAmt, &t.ProfitRate, &ts); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		t.Side = model.TradeSide(side)
		t.ExecutedAt = time.Unix(ts, 0).In(markethours.KST)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ReportFor builds the daily report for the given KST day.
func (j *Journal) ReportFor(ctx context.Context, day time.Time) (model.DailyReport, error) {
	trades, err := j.TradesOn(ctx, day)
	if err != nil {
		return model.DailyReport{}, err
	}

	report := model.DailyReport{
		Date:   day.In(markethours.KST).Format("2006-01-02"),
		Trades: len(trades),
	}
	for _, t := range trades {
		if t.Side != model.SideSell {
			continue
		}
		report.Sells++
		report.NetProfit += t.ProfitAmt
		if t.ProfitAmt >= 0 {
			report.Wins++
		} else {
			report.Losses++
		}
	}
	return report, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
