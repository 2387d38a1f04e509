// Package sqlite persists bars, indicator results and the order journal in a
// single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed time-series, indicator-result and trade store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database in WAL mode and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single connection serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db, path: path}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument  TEXT    NOT NULL,
			granularity TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL,
			PRIMARY KEY (instrument, granularity, ts)
		);

		CREATE TABLE IF NOT EXISTS indicators (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT    NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS indicator_results (
			indicator_id INTEGER NOT NULL REFERENCES indicators(id),
			instrument   TEXT    NOT NULL,
			granularity  TEXT    NOT NULL,
			tier         TEXT    NOT NULL,
			field        TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			value        REAL    NOT NULL,
			computed_at  INTEGER NOT NULL,
			PRIMARY KEY (indicator_id, instrument, granularity, field, ts)
		);
		CREATE INDEX IF NOT EXISTS idx_results_instrument ON indicator_results(instrument, ts);

		CREATE TABLE IF NOT EXISTS indicator_parameters (
			indicator_id INTEGER NOT NULL REFERENCES indicators(id),
			tier         TEXT    NOT NULL,
			name         TEXT    NOT NULL,
			value        REAL    NOT NULL,
			updated_at   INTEGER NOT NULL,
			PRIMARY KEY (indicator_id, tier, name)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id    TEXT    NOT NULL,
			client_tag  TEXT,
			broker      TEXT    NOT NULL,
			instrument  TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			units       TEXT    NOT NULL,
			order_type  TEXT    NOT NULL,
			price       TEXT,
			fill_price  TEXT,
			status      TEXT    NOT NULL,
			reason      TEXT,
			created_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument);
		CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);
	`)
	return err
}
