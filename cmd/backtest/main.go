// cmd/backtest runs rule strategies over a stored dataset or a freshly
// fetched symbol and prints a summary box per strategy.
//
// Usage:
//
//	go run ./cmd/backtest --dataset=spy_2024 --strategy=sma:20:50,rsi:14:30:70
//	go run ./cmd/backtest --symbol=AAPL --from=2023-01-01 --persist
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"patternpilot/internal/backtest"
	"patternpilot/internal/logger"
	"patternpilot/internal/provider"
	"patternpilot/internal/strategy"
	parquetstore "patternpilot/internal/store/parquet"
	sqlitestore "patternpilot/internal/store/sqlite"
	"patternpilot/internal/workbench"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	dbPath := flag.String("db", "data/workbench.db", "Path to SQLite database")
	parquetDir := flag.String("parquet", "data/datasets", "Parquet dataset directory")
	dataset := flag.String("dataset", "", "Stored dataset name")
	symbol := flag.String("symbol", "", "Ticker to fetch when no dataset is given")
	fromStr := flag.String("from", "", "Start date (YYYY-MM-DD)")
	toStr := flag.String("to", "", "End date (YYYY-MM-DD)")
	strategies := flag.String("strategy", strings.Join(strategy.Presets(), ","), "Comma-separated strategy specs")
	capital := flag.Float64("capital", 10000, "Initial capital")
	commission := flag.Float64("commission", 0, "Cost per unit of position change")
	size := flag.Float64("size", 1, "Position size in (0, 1]")
	persist := flag.Bool("persist", false, "Record run summaries in the database")
	flag.Parse()

	if *dataset == "" && *symbol == "" {
		log.Fatal("[backtest] one of --dataset or --symbol is required")
	}
	start, err := parseDate(*fromStr)
	if err != nil {
		log.Fatalf("[backtest] --from: %v", err)
	}
	end, err := parseDate(*toStr)
	if err != nil {
		log.Fatalf("[backtest] --to: %v", err)
	}

	cfg := backtest.Config{InitialCapital: *capital, Commission: *commission, PositionSize: *size}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer db.Close()
	files, err := parquetstore.New(*parquetDir)
	if err != nil {
		log.Fatalf("[backtest] parquet: %v", err)
	}

	svc, err := workbench.New(workbench.Deps{
		Provider: provider.NewYahoo("", 30*time.Second),
		Datasets: db,
		Files:    files,
		Runs:     db,
		Logger:   logger.New(os.Stderr, "backtest", logger.ParseLevel("warn"), "text"),
	}, workbench.Options{Backtest: cfg})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	src := workbench.Source{Dataset: *dataset, Symbol: *symbol, Start: start, End: end}
	failed := 0
	for _, spec := range strings.Split(*strategies, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		rep, err := svc.Backtest(ctx, workbench.BacktestRequest{Source: src, Strategy: spec, Persist: *persist})
		if err != nil {
			log.Printf("[backtest] %s: %v", spec, err)
			failed++
			continue
		}
		fmt.Print(rep.Result.Summary(rep.Strategy))
		if rep.RunID != "" {
			fmt.Printf("  run id: %s\n", rep.RunID)
		}
		fmt.Println()
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
