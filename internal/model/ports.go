package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These decouple the analysis packages from concrete data sources and
// storage (Yahoo, Redis, SQLite, Parquet).

// PriceProvider fetches validated daily price history.
type PriceProvider interface {
	// Fetch returns bars in [start, end]. Implementations return typed errors
	// for an invalid symbol, an empty result, or a network failure.
	Fetch(ctx context.Context, symbol string, start, end time.Time) (Series, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// SeriesStore is opaque key -> Series persistence (the dataset store).
type SeriesStore interface {
	// Save writes or replaces the dataset under name.
	Save(ctx context.Context, name string, s Series) error

	// Load returns the dataset, or ErrNotFound.
	Load(ctx context.Context, name string) (Series, error)

	// List returns dataset names in lexical order.
	List(ctx context.Context) ([]string, error)

	// Delete removes a dataset. Deleting a missing dataset returns ErrNotFound.
	Delete(ctx context.Context, name string) error
}

// BacktestRun is a persisted summary of one backtest invocation.
type BacktestRun struct {
	ID              string    `json:"id"`
	Dataset         string    `json:"dataset"`
	Strategy        string    `json:"strategy"`
	InitialCapital  float64   `json:"initial_capital"`
	Commission      float64   `json:"commission"`
	TotalReturn     float64   `json:"total_return"`
	BenchmarkReturn float64   `json:"benchmark_return"`
	Sharpe          float64   `json:"sharpe"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	WinRate         float64   `json:"win_rate"`
	TradeCount      float64   `json:"trade_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunStore persists backtest run summaries.
type RunStore interface {
	SaveRun(ctx context.Context, run BacktestRun) error
	ListRuns(ctx context.Context, dataset string, limit int) ([]BacktestRun, error)
}
