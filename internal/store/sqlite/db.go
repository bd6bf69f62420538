// Package sqlite is the single concrete storage adapter behind every port
// interface in internal/model: candles, swings, sweeps, confluence states,
// trades, and operator flags all live in one SQLite file, WAL-mode,
// single-writer, following the teacher's batched-transaction-writer idiom.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"trading-systemv1/internal/apperr"
)

// Config configures the store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/trader.db"
}

// Store is the single SQLite-backed repository implementing every port
// interface in internal/model. A single *sql.DB with MaxOpenConns(1)
// serializes all writes; SQLite's WAL mode still allows readers to proceed
// concurrently with the one writer.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open creates or opens the SQLite database, applying WAL mode and schema
// migrations.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("sqlite: opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			timeframe    TEXT    NOT NULL,
			bucket_start INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			volume       REAL    NOT NULL,
			created_at   INTEGER NOT NULL,
			PRIMARY KEY (timeframe, bucket_start)
		);

		CREATE TABLE IF NOT EXISTS swings (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timeframe    TEXT    NOT NULL,
			kind         TEXT    NOT NULL,
			bucket_start INTEGER NOT NULL,
			price        REAL    NOT NULL,
			active       INTEGER NOT NULL,
			created_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_swings_active ON swings(timeframe, kind, active);

		CREATE TABLE IF NOT EXISTS sweeps (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			detected_at        INTEGER NOT NULL,
			kind               TEXT    NOT NULL,
			price_at_detection REAL    NOT NULL,
			swing_level_id     INTEGER NOT NULL,
			bias               TEXT    NOT NULL,
			active             INTEGER NOT NULL,
			expires_at         INTEGER NOT NULL,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sweeps_active ON sweeps(active);

		CREATE TABLE IF NOT EXISTS confluence_states (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			sweep_id       INTEGER NOT NULL,
			phase          TEXT    NOT NULL,
			choch_price    REAL,
			choch_at       INTEGER,
			fvg_low        REAL,
			fvg_high       REAL,
			fvg_fill_at    INTEGER,
			fvg_fill_price REAL,
			bos_price      REAL,
			bos_at         INTEGER,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_confluence_phase ON confluence_states(phase);

		CREATE TABLE IF NOT EXISTS trades (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			confluence_state_id INTEGER NOT NULL,
			direction           TEXT    NOT NULL,
			entry_price         REAL    NOT NULL,
			entry_at            INTEGER NOT NULL,
			size_base           REAL    NOT NULL,
			size_quote          REAL    NOT NULL,
			stop_price          REAL    NOT NULL,
			stop_source         TEXT    NOT NULL,
			take_profit         REAL    NOT NULL,
			rr_ratio            REAL    NOT NULL,
			entry_order_id      TEXT    NOT NULL,
			stop_order_id       TEXT    NOT NULL,
			tp_order_id         TEXT    NOT NULL,
			status              TEXT    NOT NULL,
			outcome             TEXT,
			exit_price          REAL,
			exit_at             INTEGER,
			pnl_quote           REAL,
			pnl_percent         REAL,
			trailing_activated  INTEGER NOT NULL DEFAULT 0,
			trailing_price      REAL,
			ai_confidence       INTEGER NOT NULL,
			ai_reasoning        TEXT    NOT NULL,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);

		CREATE TABLE IF NOT EXISTS system_flags (
			key        TEXT PRIMARY KEY,
			value      TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Several port interfaces in internal/model share method names (ByID,
// InsertAndSupersede) with different signatures, so one Go type cannot
// implement all of them at once. Store hands out a narrow repo value per
// entity, each wrapping the same underlying *sql.DB — one writer
// connection, many single-purpose views onto it.

// classifyWriteErr maps a failed write on the trading hot path (sweeps,
// confluence transitions, trade persistence) to an apperr.Kind. A busy/
// locked database can still happen under WAL despite MaxOpenConns(1) and
// _busy_timeout during a checkpoint, and is worth a retry where the caller
// can safely issue one; anything else means the write itself was rejected.
func classifyWriteErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return apperr.Transient(stage, err)
	}
	return apperr.Fatal(stage, err)
}

func (s *Store) Candles() *CandleRepo         { return &CandleRepo{db: s.db} }
func (s *Store) Swings() *SwingRepo           { return &SwingRepo{db: s.db} }
func (s *Store) Sweeps() *SweepRepo           { return &SweepRepo{db: s.db} }
func (s *Store) Confluences() *ConfluenceRepo { return &ConfluenceRepo{db: s.db} }
func (s *Store) Trades() *TradeRepo           { return &TradeRepo{db: s.db} }
func (s *Store) Flags() *FlagRepo             { return &FlagRepo{db: s.db} }
