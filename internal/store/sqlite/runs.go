package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patternpilot/internal/model"
)

// SaveRun stores a backtest summary, assigning an id and timestamp when
// they are empty.
func (s *Store) SaveRun(ctx context.Context, run model.BacktestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, dataset, strategy, initial_capital, commission,
			total_return, benchmark_return, sharpe, max_drawdown, win_rate, trade_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Dataset, run.Strategy, run.InitialCapital, run.Commission,
		run.TotalReturn, run.BenchmarkReturn, run.Sharpe, run.MaxDrawdown, run.WinRate, run.TradeCount,
		run.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite save run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty dataset matches all
// runs; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, dataset string, limit int) ([]model.BacktestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset, strategy, initial_capital, commission, total_return,
			benchmark_return, sharpe, max_drawdown, win_rate, trade_count, created_at
		FROM backtest_runs
		WHERE (? = '' OR dataset = ?)
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, dataset, dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BacktestRun
	for rows.Next() {
		var r model.BacktestRun
		var created int64
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Strategy, &r.InitialCapital, &r.Commission,
			&r.TotalReturn, &r.BenchmarkReturn, &r.Sharpe, &r.MaxDrawdown, &r.WinRate, &r.TradeCount, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
