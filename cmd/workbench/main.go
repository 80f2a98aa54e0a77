// cmd/workbench serves the analysis workbench: the REST API, the rotation
// websocket feed, the scheduled rotation refresh and the metrics endpoint.
//
// Usage:
//
//	go run ./cmd/workbench --config=config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"patternpilot/config"
	"patternpilot/internal/api"
	"patternpilot/internal/ensemble"
	"patternpilot/internal/logger"
	"patternpilot/internal/metrics"
	"patternpilot/internal/model"
	"patternpilot/internal/notification"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/scheduler"
	"patternpilot/internal/store/bundle"
	parquetstore "patternpilot/internal/store/parquet"
	redisstore "patternpilot/internal/store/redis"
	sqlitestore "patternpilot/internal/store/sqlite"
	"patternpilot/internal/workbench"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	refreshOnStart := flag.Bool("refresh-on-start", true, "Compute the rotation board at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[workbench] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[workbench] invalid config: %v", err)
	}
	lg := logger.New(os.Stdout, "workbench", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ── Storage ──
	db, err := sqlitestore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("[workbench] sqlite: %v", err)
	}
	defer db.Close()
	health.SetSQLiteOK(true)

	files, err := parquetstore.New(cfg.Storage.ParquetDir)
	if err != nil {
		log.Fatalf("[workbench] parquet: %v", err)
	}
	bundles := bundle.New(cfg.Storage.BundlesFile)

	// ── Price provider, optionally behind the Redis cache ──
	var prov model.PriceProvider = provider.NewYahoo(cfg.Provider.Proxy, cfg.ProviderTimeout())
	var cache *redisstore.Cache
	if cfg.Redis.Enabled {
		health.SetRedisEnabled(true)
		cache, err = redisstore.NewCache(redisstore.CacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.CacheTTL(),
		})
		if err != nil {
			lg.Warn("redis unavailable, serving without cache", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer cache.Close()
			cache.Breaker().OnStateChange = func(from, to redisstore.State) {
				m.CircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					m.CircuitBreakerTrips.Inc()
				}
				lg.Warn("cache circuit breaker", "from", from.String(), "to", to.String())
			}
			prov = provider.NewCached(prov, cache, redisstore.Key, m)
		}
	}

	// ── Alerts ──
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}

	// ── Models ──
	var models *ensemble.ModelSet
	if ms, err := ensemble.LoadModels(cfg.Storage.ModelsFile); err == nil {
		models = ms
		lg.Info("model set loaded", "symbol", ms.Symbol, "models", len(ms.Models), "features", len(ms.Features))
	} else if !errors.Is(err, os.ErrNotExist) {
		lg.Warn("model set not loaded", "path", cfg.Storage.ModelsFile, "error", err)
	}

	wf := ensemble.DefaultWalkForwardConfig()
	wf.BuyAt, wf.SellAt = cfg.WalkForward.BuyAt, cfg.WalkForward.SellAt
	wf.Backtest = cfg.Backtest

	svc, err := workbench.New(workbench.Deps{
		Provider: prov,
		Datasets: db,
		Files:    files,
		Runs:     db,
		Bundles:  bundles,
		Models:   models,
		Notifier: notifiers,
		Metrics:  m,
		Health:   health,
		Logger:   lg,
	}, workbench.Options{
		Rotation: workbench.RotationOptions{
			Benchmark:    cfg.Rotation.Benchmark,
			Members:      cfg.Rotation.Members,
			Window:       cfg.Rotation.Window,
			Trail:        cfg.Rotation.Trail,
			LookbackDays: cfg.Rotation.LookbackDays,
			Weekly:       cfg.Rotation.Weekly,
		},
		Backtest:    cfg.Backtest,
		WalkForward: wf,
	})
	if err != nil {
		log.Fatalf("[workbench] %v", err)
	}

	// ── Websocket hub ──
	hub := api.NewHub(m, 256)
	svc.OnBoard(func(b rotation.Board) {
		if err := hub.Publish(api.ChannelRotation, b); err != nil {
			lg.Error("publish rotation board", "error", err)
		}
	})
	go hub.StartMarketBroadcast(ctx, time.Minute)

	// ── Scheduler ──
	sched := scheduler.NewScheduler(ctx, svc, m)
	if err := sched.RegisterAll(cfg.Rotation.RefreshCron); err != nil {
		log.Fatalf("[workbench] %v", err)
	}
	sched.Start()
	if *refreshOnStart {
		go sched.RunRefreshNow(false)
	}

	// ── Servers ──
	metricsSrv := metrics.NewServer(cfg.HTTP.MetricsAddr, m, health)
	metricsSrv.Start()

	var rdb *goredis.Client
	if cache != nil {
		rdb = cache.Client()
	}
	health.StartLivenessChecker(ctx, rdb, db.DB(), 15*time.Second)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(svc, hub, health),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("serving", "addr", cfg.HTTP.Addr, "provider", prov.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[workbench] server error: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop()
	hub.Close()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}
