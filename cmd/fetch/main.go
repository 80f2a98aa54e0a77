// cmd/fetch downloads daily history for symbols or a bundle and stores each
// as a dataset in SQLite with a Parquet copy.
//
// Usage:
//
//	go run ./cmd/fetch --symbols="SPY, QQQ" --from=2020-01-01
//	go run ./cmd/fetch --bundle="Sector ETFs"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patternpilot/config"
	"patternpilot/internal/logger"
	"patternpilot/internal/provider"
	"patternpilot/internal/store/bundle"
	parquetstore "patternpilot/internal/store/parquet"
	sqlitestore "patternpilot/internal/store/sqlite"
	"patternpilot/internal/workbench"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	symbols := flag.String("symbols", "", "Comma-separated tickers")
	bundleName := flag.String("bundle", "", "Bundle to import instead of --symbols")
	fromStr := flag.String("from", "", "Start date (YYYY-MM-DD, default one year ago)")
	toStr := flag.String("to", "", "End date (YYYY-MM-DD, default today)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if *toStr != "" {
		if end, err = time.Parse(time.DateOnly, *toStr); err != nil {
			log.Fatalf("[fetch] --to: %v", err)
		}
	}
	start := end.AddDate(-1, 0, 0)
	if *fromStr != "" {
		if start, err = time.Parse(time.DateOnly, *fromStr); err != nil {
			log.Fatalf("[fetch] --from: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := sqlitestore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("[fetch] sqlite open failed: %v", err)
	}
	defer db.Close()
	files, err := parquetstore.New(cfg.Storage.ParquetDir)
	if err != nil {
		log.Fatalf("[fetch] parquet: %v", err)
	}

	svc, err := workbench.New(workbench.Deps{
		Provider: provider.NewYahoo(cfg.Provider.Proxy, cfg.ProviderTimeout()),
		Datasets: db,
		Files:    files,
		Bundles:  bundle.New(cfg.Storage.BundlesFile),
		Logger:   logger.New(os.Stderr, "fetch", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format),
	}, workbench.Options{})
	if err != nil {
		log.Fatalf("[fetch] %v", err)
	}

	if *bundleName != "" {
		imported, failed, err := svc.ImportBundle(ctx, *bundleName, start, end)
		if err != nil {
			log.Fatalf("[fetch] %v", err)
		}
		for sym, n := range imported {
			fmt.Printf("%-8s %5d bars\n", sym, n)
		}
		for sym, reason := range failed {
			fmt.Printf("%-8s FAILED %s\n", sym, reason)
		}
		if len(failed) > 0 {
			os.Exit(1)
		}
		return
	}

	list := provider.ParseSymbols(*symbols)
	if len(list) == 0 {
		log.Fatal("[fetch] no symbols given")
	}
	failed := 0
	for _, sym := range list {
		s, err := svc.Import(ctx, sym, "", start, end)
		if err != nil {
			fmt.Printf("%-8s FAILED %v\n", sym, err)
			failed++
			continue
		}
		fmt.Printf("%-8s %5d bars\n", sym, s.Len())
	}
	if failed > 0 {
		os.Exit(1)
	}
}
