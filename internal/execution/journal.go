package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signal-systemv1/internal/model"
)

// Journal persists signals and completed trades to SQLite for audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id   TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		token       TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		idx         TEXT NOT NULL,
		direction   TEXT NOT NULL,
		price       INTEGER NOT NULL,
		ref_symbol  TEXT,
		ref_price   INTEGER DEFAULT 0,
		status      TEXT NOT NULL,
		reason      TEXT,
		ts          DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy);
	CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts);

	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		token       TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		idx         TEXT NOT NULL,
		direction   TEXT NOT NULL,
		ref_symbol  TEXT,
		qty         INTEGER NOT NULL,
		entry       INTEGER NOT NULL,
		exit        INTEGER NOT NULL,
		pnl         INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		opened_at   DATETIME NOT NULL,
		closed_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
	CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordSignal persists a routed signal, active or suppressed.
func (j *Journal) RecordSignal(s model.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO signals (signal_id, strategy, token, exchange, idx, direction, price, ref_symbol, ref_price, status, reason, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Strategy, s.Token, s.Exchange, s.Index, s.Direction,
		s.Price, s.RefSymbol, s.RefPrice, s.Status, s.Reason,
		s.TS.Format(time.RFC3339),
	)
	return err
}

// RecordTrade persists a completed round trip.
func (j *Journal) RecordTrade(t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (trade_id, strategy, token, exchange, idx, direction, ref_symbol, qty, entry, exit, pnl, exit_reason, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Strategy, t.Token, t.Exchange, t.Index, t.Direction,
		t.RefSymbol, t.Qty, t.Entry, t.Exit, t.PnL, t.ExitReason,
		t.OpenedAt.Format(time.RFC3339), t.ClosedAt.Format(time.RFC3339),
	)
	return err
}

// GetTrades returns the last N trades, newest first.
func (j *Journal) GetTrades(limit int) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT trade_id, strategy, token, exchange, idx, direction, ref_symbol, qty, entry, exit, pnl, exit_reason, opened_at, closed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var opened, closed string
		if err := rows.Scan(&t.TradeID, &t.Strategy, &t.Token, &t.Exchange, &t.Index,
			&t.Direction, &t.RefSymbol, &t.Qty, &t.Entry, &t.Exit, &t.PnL,
			&t.ExitReason, &opened, &closed); err != nil {
			continue
		}
		t.OpenedAt, _ = time.Parse(time.RFC3339, opened)
		t.ClosedAt, _ = time.Parse(time.RFC3339, closed)
		trades = append(trades, t)
	}
	return trades, nil
}

// GetSignals returns the last N signals, newest first.
func (j *Journal) GetSignals(limit int) ([]model.Signal, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT signal_id, strategy, token, exchange, idx, direction, price, ref_symbol, ref_price, status, reason, ts
		 FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var s model.Signal
		var ts string
		if err := rows.Scan(&s.ID, &s.Strategy, &s.Token, &s.Exchange, &s.Index,
			&s.Direction, &s.Price, &s.RefSymbol, &s.RefPrice, &s.Status, &s.Reason, &ts); err != nil {
			continue
		}
		s.TS, _ = time.Parse(time.RFC3339, ts)
		signals = append(signals, s)
	}
	return signals, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
