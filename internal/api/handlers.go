// Package api serves the workbench over HTTP and pushes rotation boards to
// websocket clients.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"patternpilot/internal/logger"
	"patternpilot/internal/metrics"
	"patternpilot/internal/model"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/series"
	"patternpilot/internal/store/bundle"
	"patternpilot/internal/strategy"
	"patternpilot/internal/workbench"

	"github.com/gorilla/websocket"
)

const dateLayout = "2006-01-02"

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Handler bundles the dependencies of the HTTP routes.
type Handler struct {
	svc    *workbench.Service
	hub    *Hub
	health *metrics.HealthStatus
}

// NewRouter registers every route and wraps the mux with CORS and request
// tracing. health may be nil.
func NewRouter(svc *workbench.Service, hub *Hub, health *metrics.HealthStatus) http.Handler {
	h := &Handler{svc: svc, hub: hub, health: health}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/market", h.handleMarket)

	mux.HandleFunc("GET /api/v1/datasets", h.handleListDatasets)
	mux.HandleFunc("POST /api/v1/datasets", h.handleImport)
	mux.HandleFunc("DELETE /api/v1/datasets/{name}", h.handleDeleteDataset)
	mux.HandleFunc("GET /api/v1/series", h.handleSeries)
	mux.HandleFunc("DELETE /api/v1/cache/{symbol}", h.handleInvalidateCache)

	mux.HandleFunc("GET /api/v1/bundles", h.handleBundles)
	mux.HandleFunc("PUT /api/v1/bundles/{name}", h.handlePutBundle)
	mux.HandleFunc("DELETE /api/v1/bundles/{name}", h.handleDeleteBundle)
	mux.HandleFunc("POST /api/v1/bundles/{name}/import", h.handleImportBundle)

	mux.HandleFunc("GET /api/v1/patterns", h.handlePatterns)
	mux.HandleFunc("GET /api/v1/swings", h.handleSwings)
	mux.HandleFunc("GET /api/v1/fibonacci", h.handleFibonacci)
	mux.HandleFunc("GET /api/v1/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/indicators", h.handleIndicators)
	mux.HandleFunc("GET /api/v1/correlation", h.handleCorrelation)

	mux.HandleFunc("GET /api/v1/strategies", h.handleStrategies)
	mux.HandleFunc("POST /api/v1/backtest", h.handleBacktest)
	mux.HandleFunc("GET /api/v1/runs", h.handleRuns)
	mux.HandleFunc("GET /api/v1/predict", h.handlePredict)

	mux.HandleFunc("GET /api/v1/rotation", h.handleRotation)
	mux.HandleFunc("GET /api/v1/rotation/latest", h.handleRotationLatest)
	mux.HandleFunc("POST /api/v1/rotation/refresh", h.handleRotationRefresh)
	mux.HandleFunc("GET /api/v1/rotation/missed", h.handleMissed)

	mux.HandleFunc("GET /ws", h.handleWS)

	return withMiddleware(mux)
}

// withMiddleware answers preflight requests and tags each request context
// with a trace id.
func withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logger.GenerateTraceID(r.URL.Path, time.Now())
		}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), traceID)))
	})
}

// ──── Query helpers ────

func parseDate(q, field string) (time.Time, error) {
	if q == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, q)
	if err != nil {
		return time.Time{}, badRequest(field, "want YYYY-MM-DD")
	}
	return t, nil
}

func parseInt(q, field string, def int) (int, error) {
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, badRequest(field, "not an integer")
	}
	return n, nil
}

func parseFloat(q, field string) (float64, error) {
	if q == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(q, 64)
	if err != nil {
		return 0, badRequest(field, "not a number")
	}
	return v, nil
}

func parseBool(q string) bool {
	b, _ := strconv.ParseBool(q)
	return b
}

// sourceFromQuery reads dataset or symbol plus start/end.
func sourceFromQuery(r *http.Request) (workbench.Source, error) {
	q := r.URL.Query()
	src := workbench.Source{Dataset: q.Get("dataset"), Symbol: provider.NormalizeSymbol(q.Get("symbol"))}
	var err error
	if src.Start, err = parseDate(q.Get("start"), "start"); err != nil {
		return src, err
	}
	if src.End, err = parseDate(q.Get("end"), "end"); err != nil {
		return src, err
	}
	return src, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("body", err.Error())
	}
	return nil
}

// ──── Status ────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	h.health.ServeHTTP(w, r)
}

func (h *Handler) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentMarketStatus(time.Now()))
}

// ──── Datasets and bundles ────

func (h *Handler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Datasets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": names})
}

type importRequest struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseDate(req.Start, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDate(req.End, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.svc.Import(r.Context(), req.Symbol, req.Name, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := req.Name
	if name == "" {
		name = s.Symbol
	}
	writeJSON(w, http.StatusCreated, map[string]any{"dataset": name, "symbol": s.Symbol, "bars": s.Len()})
}

func (h *Handler) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDataset(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.svc.Series(r.Context(), src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleBundles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Bundles())
}

func (h *Handler) handlePutBundle(w http.ResponseWriter, r *http.Request) {
	var b bundle.Bundle
	if err := decode(r, &b); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.PutBundle(r.PathValue("name"), b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleDeleteBundle(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBundle(r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleImportBundle(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	imported, failed, err := h.svc.ImportBundle(r.Context(), r.PathValue("name"), src.Start, src.End)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "failed": failed})
}

// ──── Analysis ────

func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Patterns(r.Context(), src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleSwings(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	window, err := parseInt(q.Get("window"), "window", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lookback, err := parseInt(q.Get("lookback"), "lookback", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Swings(r.Context(), src, window, lookback)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleFibonacci(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	req := workbench.FibRequest{Source: src, Direction: q.Get("direction"), Snap: parseBool(q.Get("snap"))}
	if req.High, err = parseFloat(q.Get("high"), "high"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Low, err = parseFloat(q.Get("low"), "low"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.HighTS, err = parseDate(q.Get("high_date"), "high_date"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.LowTS, err = parseDate(q.Get("low_date"), "low_date"); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Lookback, err = parseInt(q.Get("lookback"), "lookback", 0); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Fibonacci(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := parseInt(r.URL.Query().Get("window"), "window", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Stats(r.Context(), src, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	n, err := h.svc.InvalidateCache(r.Context(), symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "removed": n})
}

func (h *Handler) handleIndicators(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Indicators(r.Context(), src, r.URL.Query().Get("indicators"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var sources []workbench.Source
	for _, sym := range provider.ParseSymbols(q.Get("symbols")) {
		sources = append(sources, workbench.Source{Symbol: sym, Start: base.Start, End: base.End})
	}
	for _, ds := range strings.Split(q.Get("datasets"), ",") {
		if ds = strings.TrimSpace(ds); ds != "" {
			sources = append(sources, workbench.Source{Dataset: ds, Start: base.Start, End: base.End})
		}
	}
	method := series.Returns
	switch q.Get("method") {
	case "", "returns":
	case "prices":
		method = series.Prices
	default:
		writeError(w, r, badRequest("method", "want returns or prices"))
		return
	}
	m, err := h.svc.Correlation(r.Context(), sources, method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": strategy.Presets()})
}

func (h *Handler) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req workbench.BacktestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Symbol = provider.NormalizeSymbol(req.Symbol)
	rep, err := h.svc.Backtest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := h.svc.Runs(r.Context(), q.Get("dataset"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cutoff, err := parseDate(r.URL.Query().Get("cutoff"), "cutoff")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.svc.Predict(r.Context(), src, cutoff)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ──── Rotation ────

func (h *Handler) handleRotation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := workbench.RotationRequest{
		Benchmark: provider.NormalizeSymbol(q.Get("benchmark")),
		Members:   provider.ParseSymbols(q.Get("members")),
	}
	var err error
	if req.Window, err = parseInt(q.Get("window"), "window", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Trail, err = parseInt(q.Get("trail"), "trail", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.LookbackDays, err = parseInt(q.Get("lookback_days"), "lookback_days", 0); err != nil {
		writeError(w, r, err)
		return
	}
	if v := q.Get("weekly"); v != "" {
		weekly := parseBool(v)
		req.Weekly = &weekly
	}
	board, err := h.svc.Rotation(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boardResponse{Board: board, Quadrants: board.Quadrants()})
}

type boardResponse struct {
	rotation.Board
	Quadrants map[string]model.Quadrant   `json:"quadrants"`
	Summary   map[model.Quadrant][]string `json:"summary,omitempty"`
}

func (h *Handler) handleRotationLatest(w http.ResponseWriter, r *http.Request) {
	board, ok := h.svc.LatestBoard()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no rotation board computed yet", Kind: "not_found"})
		return
	}
	summary, _ := h.svc.RotationSummary()
	writeJSON(w, http.StatusOK, boardResponse{Board: board, Quadrants: board.Quadrants(), Summary: summary})
}

func (h *Handler) handleRotationRefresh(w http.ResponseWriter, r *http.Request) {
	changes, err := h.svc.RefreshRotation(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (h *Handler) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseInt(q.Get("from_seq"), "from_seq", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseInt(q.Get("to_seq"), "to_seq", int(h.hub.Seq()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	envs := h.hub.Missed(int64(from), int64(to))
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq": h.hub.Seq(), "envelopes": out})
}

// ──── Websocket ────

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since_seq"), 10, 64)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade error: %v", err)
		return
	}
	h.hub.HandleWSRequest(conn, since)
}
