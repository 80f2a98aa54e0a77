// Package bundle stores named symbol groups in a JSON file.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"patternpilot/internal/model"
)

// Bundle is a named list of symbols analysed together.
type Bundle struct {
	Symbols     []string `json:"symbols"`
	Description string   `json:"description"`
}

// SectorETFs maps the S&P 500 sector SPDR tickers to sector names.
var SectorETFs = map[string]string{
	"XLK":  "Technology",
	"XLF":  "Financials",
	"XLV":  "Health Care",
	"XLY":  "Consumer Discret.",
	"XLP":  "Consumer Staples",
	"XLE":  "Energy",
	"XLI":  "Industrials",
	"XLB":  "Materials",
	"XLU":  "Utilities",
	"XLRE": "Real Estate",
	"XLC":  "Communication",
}

// Presets are the built-in bundles. They are always listed and cannot be
// overwritten or deleted.
var Presets = map[string]Bundle{
	"FAANG+": {
		Symbols:     []string{"META", "AAPL", "AMZN", "NFLX", "GOOGL", "MSFT", "NVDA", "TSLA"},
		Description: "Major tech giants",
	},
	"S&P Sectors": {
		Symbols:     []string{"XLK", "XLF", "XLV", "XLY", "XLP", "XLE", "XLI", "XLB", "XLU", "XLRE", "XLC"},
		Description: "S&P 500 sector ETFs",
	},
	"Market Indices": {
		Symbols:     []string{"SPY", "QQQ", "IWM", "DIA", "VTI", "EFA", "EEM", "TLT", "GLD", "USO"},
		Description: "Major market and asset class ETFs",
	},
	"Financials": {
		Symbols:     []string{"JPM", "BAC", "WFC", "GS", "MS", "C", "BLK", "SCHW", "AXP", "V", "MA"},
		Description: "Major financial institutions",
	},
	"Semiconductors": {
		Symbols:     []string{"NVDA", "AMD", "INTC", "AVGO", "QCOM", "TXN", "MU", "AMAT", "LRCX", "KLAC"},
		Description: "Semiconductor companies",
	},
	"Defensive": {
		Symbols:     []string{"JNJ", "PG", "KO", "PEP", "WMT", "MCD", "VZ", "T", "SO", "DUK"},
		Description: "Defensive/low-beta stocks",
	},
}

// SectorSymbols returns the sector ETF tickers in sorted order.
func SectorSymbols() []string {
	out := make([]string, 0, len(SectorETFs))
	for s := range SectorETFs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ErrPreset is returned when a write targets a built-in bundle.
var ErrPreset = errors.New("preset bundles are read-only")

// Store is a JSON-file bundle store safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store backed by path. The file is created on first save.
func New(path string) *Store { return &Store{path: path} }

// load reads the user bundles. A missing or corrupt file yields an empty set.
func (s *Store) load() map[string]Bundle {
	out := map[string]Bundle{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[bundle] read %s: %v", s.path, err)
		}
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Printf("[bundle] parse %s: %v", s.path, err)
		return map[string]Bundle{}
	}
	return out
}

func (s *Store) save(bundles map[string]Bundle) error {
	data, err := json.MarshalIndent(bundles, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("bundle write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// All returns presets merged with user bundles.
func (s *Store) All() map[string]Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.load()
	for name, b := range Presets {
		out[name] = b
	}
	return out
}

// Get looks up a preset or user bundle.
func (s *Store) Get(name string) (Bundle, error) {
	if b, ok := Presets[name]; ok {
		return b, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.load()[name]
	if !ok {
		return Bundle{}, fmt.Errorf("bundle %q: %w", name, model.ErrNotFound)
	}
	return b, nil
}

// Put creates or replaces a user bundle.
func (s *Store) Put(name string, b Bundle) error {
	if name == "" {
		return model.InvalidParam("name", "must not be empty")
	}
	if len(b.Symbols) == 0 {
		return model.InvalidParam("symbols", "bundle needs at least one symbol")
	}
	if _, ok := Presets[name]; ok {
		return fmt.Errorf("bundle %q: %w", name, ErrPreset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.load()
	all[name] = b
	return s.save(all)
}

// Delete removes a user bundle.
func (s *Store) Delete(name string) error {
	if _, ok := Presets[name]; ok {
		return fmt.Errorf("bundle %q: %w", name, ErrPreset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.load()
	if _, ok := all[name]; !ok {
		return fmt.Errorf("bundle %q: %w", name, model.ErrNotFound)
	}
	delete(all, name)
	return s.save(all)
}
