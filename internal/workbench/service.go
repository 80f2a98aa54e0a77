// Package workbench is the application layer: it resolves series from the
// dataset stores or the price provider, runs the analysis packages, and
// records runs, metrics and alerts.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"patternpilot/internal/backtest"
	"patternpilot/internal/ensemble"
	"patternpilot/internal/logger"
	"patternpilot/internal/metrics"
	"patternpilot/internal/model"
	"patternpilot/internal/notification"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/store/bundle"
)

// RotationOptions are the defaults for rotation boards.
type RotationOptions struct {
	Benchmark    string
	Members      []string // empty means the sector ETFs
	Window       int
	Trail        int
	LookbackDays int
	Weekly       bool
}

// Options configures a Service.
type Options struct {
	Rotation    RotationOptions
	Backtest    backtest.Config
	WalkForward ensemble.WalkForwardConfig
	// FetchConcurrency bounds parallel provider calls (default 4).
	FetchConcurrency int
}

// Deps are the adapters a Service runs on. Provider and Datasets are
// required; the rest may be nil.
type Deps struct {
	Provider model.PriceProvider
	Datasets model.SeriesStore
	Files    model.SeriesStore // parquet mirror
	Runs     model.RunStore
	Bundles  *bundle.Store
	Models   *ensemble.ModelSet
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Logger   *slog.Logger
}

// Service is safe for concurrent use.
type Service struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu        sync.RWMutex
	board     *rotation.Board
	listeners []func(rotation.Board)
}

// New validates deps and fills option defaults.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Provider == nil {
		return nil, errors.New("workbench: provider is required")
	}
	if deps.Datasets == nil {
		return nil, errors.New("workbench: dataset store is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.Rotation.Benchmark == "" {
		opts.Rotation.Benchmark = "SPY"
	}
	if opts.Rotation.Window <= 0 {
		opts.Rotation.Window = rotation.DefaultWindow
	}
	if opts.Rotation.Trail <= 0 {
		opts.Rotation.Trail = 5
	}
	if opts.Rotation.LookbackDays <= 0 {
		opts.Rotation.LookbackDays = 365
	}
	if opts.Backtest == (backtest.Config{}) {
		opts.Backtest = backtest.DefaultConfig()
	}
	if opts.WalkForward.BuyAt == 0 && opts.WalkForward.SellAt == 0 {
		opts.WalkForward = ensemble.DefaultWalkForwardConfig()
	}
	if opts.WalkForward.Backtest == (backtest.Config{}) {
		opts.WalkForward.Backtest = opts.Backtest
	}
	if deps.Health != nil {
		deps.Health.SetProvider(deps.Provider.Name())
	}
	return &Service{deps: deps, opts: opts, log: deps.Logger, now: time.Now}, nil
}

// Source names the series an operation runs on: a stored dataset, or a
// symbol fetched through the provider for [Start, End].
type Source struct {
	Dataset string    `json:"dataset,omitempty"`
	Symbol  string    `json:"symbol,omitempty"`
	Start   time.Time `json:"start,omitempty"`
	End     time.Time `json:"end,omitempty"`
}

// Series resolves src to a validated series.
func (s *Service) Series(ctx context.Context, src Source) (model.Series, error) {
	var (
		series model.Series
		err    error
	)
	switch {
	case src.Dataset != "":
		series, err = s.deps.Datasets.Load(ctx, src.Dataset)
		if errors.Is(err, model.ErrNotFound) && s.deps.Files != nil {
			series, err = s.deps.Files.Load(ctx, src.Dataset)
		}
		if err == nil {
			series = series.Between(src.Start, src.End)
		}
	case src.Symbol != "":
		if !provider.ValidSymbol(src.Symbol) {
			return model.Series{}, fmt.Errorf("%w: %q", provider.ErrInvalidSymbol, src.Symbol)
		}
		series, err = s.deps.Provider.Fetch(ctx, src.Symbol, src.Start, src.End)
	default:
		return model.Series{}, model.InvalidParam("source", "dataset or symbol is required")
	}
	if err != nil {
		return model.Series{}, err
	}
	if err := series.Validate(); err != nil {
		return model.Series{}, err
	}
	return series, nil
}

// Import downloads symbol and stores it as dataset name (the symbol when
// name is empty) in the dataset store and, if configured, the parquet mirror.
func (s *Service) Import(ctx context.Context, symbol, name string, start, end time.Time) (model.Series, error) {
	symbol = provider.NormalizeSymbol(symbol)
	if name == "" {
		name = symbol
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(symbol, s.now()))

	series, err := s.Series(ctx, Source{Symbol: symbol, Start: start, End: end})
	if err != nil {
		return model.Series{}, err
	}
	if err := s.deps.Datasets.Save(ctx, name, series); err != nil {
		return model.Series{}, fmt.Errorf("save dataset %s: %w", name, err)
	}
	if s.deps.Files != nil {
		if err := s.deps.Files.Save(ctx, name, series); err != nil {
			s.log.Warn("parquet mirror failed", append(logger.LogWithTrace(ctx), "dataset", name, "error", err)...)
		}
	}
	s.log.Info("dataset imported", append(logger.LogWithTrace(ctx), "dataset", name, "bars", series.Len())...)
	return series, nil
}

// ImportBundle imports every symbol of a bundle. Failures are collected
// per symbol rather than aborting the batch.
func (s *Service) ImportBundle(ctx context.Context, bundleName string, start, end time.Time) (map[string]int, map[string]string, error) {
	if s.deps.Bundles == nil {
		return nil, nil, errors.New("workbench: bundle store not configured")
	}
	b, err := s.deps.Bundles.Get(bundleName)
	if err != nil {
		return nil, nil, err
	}
	series, failed := s.fetchAll(ctx, b.Symbols, start, end)
	imported := map[string]int{}
	for sym, ser := range series {
		if err := s.deps.Datasets.Save(ctx, sym, ser); err != nil {
			failed[sym] = err.Error()
			continue
		}
		if s.deps.Files != nil {
			if err := s.deps.Files.Save(ctx, sym, ser); err != nil {
				s.log.Warn("parquet mirror failed", "dataset", sym, "error", err)
			}
		}
		imported[sym] = ser.Len()
	}
	return imported, failed, nil
}

// InvalidateCache drops cached downloads of symbol. It reports zero when
// the provider has no cache.
func (s *Service) InvalidateCache(ctx context.Context, symbol string) (int, error) {
	if !provider.ValidSymbol(symbol) {
		return 0, provider.ErrInvalidSymbol
	}
	inv, ok := s.deps.Provider.(provider.Invalidator)
	if !ok {
		return 0, nil
	}
	n, err := inv.Invalidate(ctx, symbol)
	if err != nil {
		return 0, err
	}
	s.log.Info("cache invalidated", "symbol", provider.NormalizeSymbol(symbol), "keys", n)
	return n, nil
}

// Datasets lists stored dataset names.
func (s *Service) Datasets(ctx context.Context) ([]string, error) {
	return s.deps.Datasets.List(ctx)
}

// DeleteDataset removes a dataset from both stores.
func (s *Service) DeleteDataset(ctx context.Context, name string) error {
	err := s.deps.Datasets.Delete(ctx, name)
	if s.deps.Files != nil {
		if ferr := s.deps.Files.Delete(ctx, name); ferr == nil {
			err = nil
		}
	}
	return err
}

// Bundles returns presets merged with user bundles.
func (s *Service) Bundles() map[string]bundle.Bundle {
	if s.deps.Bundles == nil {
		return bundle.Presets
	}
	return s.deps.Bundles.All()
}

// PutBundle saves a user bundle. Symbols are normalized and must all be
// valid tickers.
func (s *Service) PutBundle(name string, b bundle.Bundle) error {
	if s.deps.Bundles == nil {
		return errors.New("workbench: bundle store not configured")
	}
	for i, sym := range b.Symbols {
		b.Symbols[i] = provider.NormalizeSymbol(sym)
		if !provider.ValidSymbol(b.Symbols[i]) {
			return fmt.Errorf("bundle %s: %w: %q", name, provider.ErrInvalidSymbol, sym)
		}
	}
	return s.deps.Bundles.Put(name, b)
}

// DeleteBundle removes a user bundle.
func (s *Service) DeleteBundle(name string) error {
	if s.deps.Bundles == nil {
		return errors.New("workbench: bundle store not configured")
	}
	return s.deps.Bundles.Delete(name)
}

// fetchAll downloads symbols with bounded concurrency.
func (s *Service) fetchAll(ctx context.Context, symbols []string, start, end time.Time) (map[string]model.Series, map[string]string) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.opts.FetchConcurrency)
		out    = make(map[string]model.Series, len(symbols))
		failed = map[string]string{}
	)
	for _, sym := range symbols {
		sym := provider.NormalizeSymbol(sym)
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failed[sym] = ctx.Err().Error()
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			ser, err := s.Series(ctx, Source{Symbol: sym, Start: start, End: end})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[sym] = err.Error()
				return
			}
			out[sym] = ser
		}()
	}
	wg.Wait()
	return out, failed
}

// observe wraps a metrics observation; a nil Metrics is a no-op.
func (s *Service) observe(op string, start time.Time, err *error) {
	s.deps.Metrics.ObserveAnalysis(op, start, err)
}
