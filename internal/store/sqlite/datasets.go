package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"patternpilot/internal/model"
)

// DatasetInfo describes a stored dataset without loading its bars.
type DatasetInfo struct {
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Bars      int       `json:"bars"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Save replaces the dataset name with s in one transaction.
func (s *Store) Save(ctx context.Context, name string, series model.Series) error {
	if name == "" {
		return model.InvalidParam("name", "must not be empty")
	}
	if err := series.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bars WHERE dataset = ?`, name); err != nil {
		return fmt.Errorf("sqlite clear %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO datasets (name, symbol, bars, updated_at) VALUES (?, ?, ?, ?)
	`, name, series.Symbol, series.Len(), time.Now().Unix()); err != nil {
		return fmt.Errorf("sqlite upsert %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (dataset, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range series.Bars {
		if _, err := stmt.ExecContext(ctx, name, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("sqlite insert %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Load returns the dataset in timestamp order.
func (s *Store) Load(ctx context.Context, name string) (model.Series, error) {
	var symbol string
	err := s.db.QueryRowContext(ctx, `SELECT symbol FROM datasets WHERE name = ?`, name).Scan(&symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Series{}, fmt.Errorf("dataset %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return model.Series{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, COALESCE(volume, 0)
		FROM bars WHERE dataset = ? ORDER BY ts ASC
	`, name)
	if err != nil {
		return model.Series{}, err
	}
	defer rows.Close()

	out := model.Series{Symbol: symbol}
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return model.Series{}, err
		}
		b.TS = time.Unix(ts, 0).UTC()
		out.Bars = append(out.Bars, b)
	}
	return out, rows.Err()
}

// List returns dataset names in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Info lists every dataset with its bar range.
func (s *Store) Info(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, d.symbol, d.bars, d.updated_at, MIN(b.ts), MAX(b.ts)
		FROM datasets d LEFT JOIN bars b ON b.dataset = d.name
		GROUP BY d.name ORDER BY d.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		var updated int64
		var first, last sql.NullInt64
		if err := rows.Scan(&info.Name, &info.Symbol, &info.Bars, &updated, &first, &last); err != nil {
			return nil, err
		}
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		if first.Valid {
			info.First = time.Unix(first.Int64, 0).UTC()
			info.Last = time.Unix(last.Int64, 0).UTC()
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a dataset and its bars.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dataset %q: %w", name, model.ErrNotFound)
	}
	return nil
}
