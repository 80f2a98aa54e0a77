package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the workbench.
type Metrics struct {
	Registry *prometheus.Registry

	// Analysis
	AnalysisDur    *prometheus.HistogramVec // labels: op
	AnalysisErrors *prometheus.CounterVec   // labels: op
	BacktestsTotal *prometheus.CounterVec   // labels: strategy

	// Provider + cache
	ProviderFetchDur *prometheus.HistogramVec // labels: provider
	ProviderErrors   *prometheus.CounterVec   // labels: provider
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter

	// Circuit breaker
	CircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips prometheus.Counter

	// Rotation feed
	QuadrantChanges *prometheus.CounterVec // labels: to
	WSClients       prometheus.Gauge
	WSBroadcasts    prometheus.Counter

	// Scheduler
	JobRuns *prometheus.CounterVec // labels: job, status

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers all metrics on a fresh registry, so that several
// instances (one per test) never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		AnalysisDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workbench_analysis_duration_seconds",
			Help:    "Latency of one analysis operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		AnalysisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_analysis_errors_total",
			Help: "Analysis operations that returned an error",
		}, []string{"op"}),
		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_backtests_total",
			Help: "Backtests run (by strategy)",
		}, []string{"strategy"}),

		ProviderFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workbench_provider_fetch_duration_seconds",
			Help:    "Upstream price history fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_provider_errors_total",
			Help: "Failed upstream fetches",
		}, []string{"provider"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_cache_hits_total",
			Help: "Price history served from the Redis cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_cache_misses_total",
			Help: "Price history cache misses",
		}),

		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_cache_circuit_breaker_state",
			Help: "Cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_cache_circuit_breaker_trips_total",
			Help: "Times the cache circuit breaker opened",
		}),

		QuadrantChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_quadrant_changes_total",
			Help: "Rotation quadrant transitions observed by the scheduler",
		}, []string{"to"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_ws_clients",
			Help: "Connected rotation feed clients",
		}),
		WSBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_ws_broadcasts_total",
			Help: "Rotation boards pushed to the websocket hub",
		}),

		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_job_runs_total",
			Help: "Scheduled job executions",
		}, []string{"job", "status"}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_market_open",
			Help: "1 while the NYSE regular session is open",
		}),
	}

	m.Registry.MustRegister(
		m.AnalysisDur,
		m.AnalysisErrors,
		m.BacktestsTotal,
		m.ProviderFetchDur,
		m.ProviderErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.QuadrantChanges,
		m.WSClients,
		m.WSBroadcasts,
		m.JobRuns,
		m.MarketState,
	)

	return m
}

// ObserveAnalysis records the duration and outcome of one operation.
// Usage: defer m.ObserveAnalysis("patterns", time.Now(), &err)
func (m *Metrics) ObserveAnalysis(op string, start time.Time, err *error) {
	if m == nil {
		return
	}
	m.AnalysisDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		m.AnalysisErrors.WithLabelValues(op).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Provider       string    `json:"provider"`
	LastRefresh    time.Time `json:"last_refresh"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetProvider(name string) {
	h.mu.Lock()
	h.Provider = name
	h.mu.Unlock()
}

// SetLastRefresh records the time of the last successful rotation refresh.
func (h *HealthStatus) SetLastRefresh(t time.Time) {
	h.mu.Lock()
	h.LastRefresh = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Snapshot is the JSON body served by /healthz.
type Snapshot struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	Provider        string  `json:"provider"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastRefresh     string  `json:"last_refresh,omitempty"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Snapshot evaluates the overall status. A down cache only degrades
// service; a down dataset store makes it unhealthy.
func (h *HealthStatus) Snapshot() (Snapshot, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		status = "degraded"
	}
	if !h.SQLiteOK {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	snap := Snapshot{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Provider:        h.Provider,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastRefresh.IsZero() {
		snap.LastRefresh = h.LastRefresh.Format(time.RFC3339)
	}
	return snap, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(snap)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
