// Package parquet keeps datasets as one Parquet file per name, the
// on-disk format analysts load into notebooks.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"patternpilot/internal/model"
)

const ext = ".parquet"

// row is the on-disk layout of one bar.
type row struct {
	Symbol string  `parquet:"symbol,dict"`
	TS     int64   `parquet:"ts"` // unix milliseconds
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
}

// Store implements model.SeriesStore over a directory.
type Store struct {
	dir string
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parquet store: %w", err)
	}
	log.Printf("[parquet] dataset dir %s", dir)
	return &Store{dir: dir}, nil
}

// Dir returns the dataset directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", model.InvalidParam("name", "must be a plain file name")
	}
	return filepath.Join(s.dir, name+ext), nil
}

// Save writes the dataset to a temp file and renames it into place.
func (s *Store) Save(ctx context.Context, name string, series model.Series) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := series.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := make([]row, len(series.Bars))
	for i, b := range series.Bars {
		rows[i] = row{
			Symbol: series.Symbol,
			TS:     b.TS.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("parquet write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("parquet rename %s: %w", name, err)
	}
	return nil
}

// Load reads a dataset back. Rows are re-sorted by time.
func (s *Store) Load(ctx context.Context, name string) (model.Series, error) {
	path, err := s.path(name)
	if err != nil {
		return model.Series{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Series{}, err
	}

	rows, err := parquet.ReadFile[row](path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Series{}, fmt.Errorf("dataset %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return model.Series{}, fmt.Errorf("parquet read %s: %w", name, err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TS < rows[j].TS })
	out := model.Series{Bars: make([]model.Bar, len(rows))}
	for i, r := range rows {
		if i == 0 {
			out.Symbol = r.Symbol
		}
		out.Bars[i] = model.Bar{
			TS:     time.UnixMilli(r.TS).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return out, nil
}

// List returns dataset names in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the dataset file.
func (s *Store) Delete(ctx context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("dataset %q: %w", name, model.ErrNotFound)
		}
		return err
	}
	return nil
}
