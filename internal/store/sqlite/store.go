// Package sqlite persists datasets and backtest run summaries in a single
// SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements model.SeriesStore and model.RunStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database with WAL mode and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func createSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			name       TEXT    PRIMARY KEY,
			symbol     TEXT    NOT NULL,
			bars       INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bars (
			dataset TEXT    NOT NULL REFERENCES datasets(name) ON DELETE CASCADE,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL,
			PRIMARY KEY (dataset, ts)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			id               TEXT    PRIMARY KEY,
			dataset          TEXT    NOT NULL,
			strategy         TEXT    NOT NULL,
			initial_capital  REAL    NOT NULL,
			commission       REAL    NOT NULL,
			total_return     REAL    NOT NULL,
			benchmark_return REAL    NOT NULL,
			sharpe           REAL    NOT NULL,
			max_drawdown     REAL    NOT NULL,
			win_rate         REAL    NOT NULL,
			trade_count      REAL    NOT NULL,
			created_at       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_dataset ON backtest_runs (dataset, created_at DESC);
	`)
	return err
}
