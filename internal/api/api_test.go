package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"patternpilot/internal/model"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/store/bundle"
	"patternpilot/internal/workbench"

	"github.com/gorilla/websocket"
)

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

type stubProvider struct{ data map[string]model.Series }

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Fetch(_ context.Context, symbol string, start, end time.Time) (model.Series, error) {
	s, ok := p.data[symbol]
	if !ok {
		return model.Series{}, provider.ErrNoData
	}
	return s.Between(start, end), nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]model.Series
}

func (m *memStore) Save(_ context.Context, name string, s model.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = s
	return nil
}

func (m *memStore) Load(_ context.Context, name string) (model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[name]
	if !ok {
		return model.Series{}, model.ErrNotFound
	}
	return s, nil
}

func (m *memStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return model.ErrNotFound
	}
	delete(m.data, name)
	return nil
}

func wave(symbol string, n int) model.Series {
	s := model.Series{Symbol: symbol, Bars: make([]model.Bar, n)}
	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -n)
	prev := 100.0
	for i := range s.Bars {
		c := 100 + 0.05*float64(i) + 5*math.Sin(float64(i)/6)
		s.Bars[i] = model.Bar{
			TS:    start.AddDate(0, 0, i),
			Open:  prev,
			High:  math.Max(prev, c) + 0.5,
			Low:   math.Min(prev, c) - 0.5,
			Close: c,
		}
		prev = c
	}
	return s
}

type testServer struct {
	srv      *httptest.Server
	hub      *Hub
	svc      *workbench.Service
	datasets *memStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	prov := stubProvider{data: map[string]model.Series{
		"SPY": wave("SPY", 200),
		"XLK": wave("XLK", 200),
	}}
	datasets := &memStore{data: map[string]model.Series{}}
	svc, err := workbench.New(workbench.Deps{
		Provider: prov,
		Datasets: datasets,
		Bundles:  bundle.New(t.TempDir() + "/bundles.json"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, workbench.Options{Rotation: workbench.RotationOptions{Benchmark: "SPY", Members: []string{"XLK"}}})
	if err != nil {
		t.Fatalf("workbench.New: %v", err)
	}
	hub := NewHub(nil, 16)
	svc.OnBoard(func(b rotation.Board) { hub.Publish(ChannelRotation, b) })
	srv := httptest.NewServer(NewRouter(svc, hub, nil))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{srv: srv, hub: hub, svc: svc, datasets: datasets}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, ts.srv.URL+path, rdr)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &out)
	}
	return resp, out
}

// ──── Routing and errors ────

func TestHealthWithoutStatus(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, "GET", "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID header")
	}
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, "OPTIONS", "/api/v1/backtest", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		path string
		code int
		kind string
	}{
		{"/api/v1/patterns", http.StatusBadRequest, "validation"},
		{"/api/v1/patterns?symbol=bad!", http.StatusBadRequest, "invalid_symbol"},
		{"/api/v1/patterns?dataset=missing", http.StatusNotFound, "not_found"},
		{"/api/v1/patterns?symbol=QQQ", http.StatusNotFound, "not_found"},
		{"/api/v1/patterns?symbol=SPY&start=yesterday", http.StatusBadRequest, "validation"},
		{"/api/v1/predict?symbol=SPY", http.StatusServiceUnavailable, "no_models"},
		{"/api/v1/correlation?symbols=SPY&method=ranks", http.StatusBadRequest, "validation"},
	}
	for _, c := range cases {
		resp, body := ts.do(t, "GET", c.path, "")
		if resp.StatusCode != c.code || body["kind"] != c.kind {
			t.Errorf("%s: got %d %v, want %d %s", c.path, resp.StatusCode, body["kind"], c.code, c.kind)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&model.InsufficientDataError{Op: "x", Need: 2, Have: 1}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", bundle.ErrPreset), http.StatusConflict},
		{fmt.Errorf("wrap: %w", provider.ErrNetwork), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got, _ := statusFor(c.err); got != c.code {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.code)
		}
	}
}

// ──── Endpoints ────

func TestImportAndAnalyse(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "POST", "/api/v1/datasets", `{"symbol":"spy","name":"spy-daily"}`)
	if resp.StatusCode != http.StatusCreated || body["bars"] != float64(200) {
		t.Fatalf("import = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, "GET", "/api/v1/swings?dataset=spy-daily&lookback=40", "")
	if resp.StatusCode != http.StatusOK || body["range"] == nil {
		t.Errorf("swings = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, "GET", "/api/v1/fibonacci?dataset=spy-daily&direction=extension", "")
	if resp.StatusCode != http.StatusOK || body["auto"] != true {
		t.Errorf("fibonacci = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, "POST", "/api/v1/backtest", `{"dataset":"spy-daily","strategy":"rsi:14:30:70"}`)
	if resp.StatusCode != http.StatusOK || body["result"] == nil {
		t.Errorf("backtest = %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, "POST", "/api/v1/backtest", `{"dataset":"spy-daily","strategy":"sma:5:10","bogus":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ts.do(t, "DELETE", "/api/v1/datasets/spy-daily", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, "DELETE", "/api/v1/datasets/spy-daily", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestBundles(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "PUT", "/api/v1/bundles/mine", `{"symbols":["spy","xlk"],"description":"test"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	resp, body := ts.do(t, "GET", "/api/v1/bundles", "")
	if resp.StatusCode != http.StatusOK || body["mine"] == nil {
		t.Errorf("bundles = %v", body)
	}
	resp, body = ts.do(t, "POST", "/api/v1/bundles/mine/import", "")
	imported, _ := body["imported"].(map[string]any)
	if resp.StatusCode != http.StatusOK || len(imported) != 2 {
		t.Errorf("import bundle = %d %v", resp.StatusCode, body)
	}
	for name := range bundle.Presets {
		resp, _ = ts.do(t, "DELETE", "/api/v1/bundles/"+name, "")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("delete preset %s status = %d, want 409", name, resp.StatusCode)
		}
		break
	}
}

func TestRotationRefreshAndLatest(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "GET", "/api/v1/rotation/latest", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("latest before refresh = %d, want 404", resp.StatusCode)
	}
	resp, _ = ts.do(t, "POST", "/api/v1/rotation/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	resp, body := ts.do(t, "GET", "/api/v1/rotation/latest", "")
	if resp.StatusCode != http.StatusOK || body["benchmark"] != "SPY" {
		t.Errorf("latest = %d %v", resp.StatusCode, body)
	}

	if ts.hub.Seq() != 1 {
		t.Errorf("hub seq = %d, want 1 after one refresh", ts.hub.Seq())
	}
	resp, body = ts.do(t, "GET", "/api/v1/rotation/missed?from_seq=1", "")
	envs, _ := body["envelopes"].([]any)
	if resp.StatusCode != http.StatusOK || len(envs) != 1 {
		t.Errorf("missed = %d %v", resp.StatusCode, body)
	}
}

// ──── Websocket ────

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

func dial(t *testing.T, ts *testServer, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Coalesced frames hold newline separated envelopes; the first is enough.
	first, _, _ := strings.Cut(string(raw), "\n")
	var env envelope
	if err := json.Unmarshal([]byte(first), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
	}
	return env
}

func TestWS_ReceivesLatestOnConnect(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.Publish(ChannelMarket, MarketStatus{Status: "Market Closed"})

	conn := dial(t, ts, "")
	env := readEnvelope(t, conn)
	if env.Channel != ChannelMarket || env.Seq != 1 {
		t.Errorf("initial envelope = %+v", env)
	}
}

func TestWS_SubscribeFiltersChannels(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts, "")

	conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{ChannelRotation}})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil || ack["type"] != "subscribed" {
		t.Fatalf("ack = %v, %v", ack, err)
	}

	ts.hub.Publish(ChannelMarket, MarketStatus{})
	ts.hub.Publish(ChannelRotation, map[string]string{"benchmark": "SPY"})
	env := readEnvelope(t, conn)
	if env.Channel != ChannelRotation || env.Seq != 2 {
		t.Errorf("envelope = %+v, want rotation seq 2", env)
	}
}

func TestWS_PingPong(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts, "")
	conn.WriteJSON(map[string]any{"type": "ping", "ping": 7})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "pong" || pong["ping"] != float64(7) {
		t.Errorf("pong = %v", pong)
	}
}

func TestWS_BackfillSinceSeq(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.hub.Publish(ChannelRotation, map[string]int{"n": i})
	}
	conn := dial(t, ts, "?since_seq=1")
	env := readEnvelope(t, conn)
	if env.Seq != 2 {
		t.Errorf("first backfilled seq = %d, want 2", env.Seq)
	}
}

func TestWS_ClientCount(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts, "")
	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", ts.hub.ClientCount())
	}
	conn.Close()
	for ts.hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.hub.ClientCount() != 0 {
		t.Errorf("clients after close = %d, want 0", ts.hub.ClientCount())
	}
}

func TestHub_RegisterQueuesStateBeforeJoining(t *testing.T) {
	hub := NewHub(nil, 16)
	hub.Publish(ChannelRotation, map[string]int{"n": 1})
	hub.Publish(ChannelMarket, map[string]int{"n": 2})
	hub.Publish(ChannelRotation, map[string]int{"n": 3})

	c := &Client{send: make(chan []byte, 8), hub: hub}
	if n := hub.register(c, 0); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	var seqs []string
	for len(c.send) > 0 {
		env := <-c.send
		var m struct{ Seq int64 }
		json.Unmarshal(env, &m)
		seqs = append(seqs, fmt.Sprint(m.Seq))
	}
	if got := strings.Join(seqs, ","); got != "2,3" {
		t.Errorf("initial seqs = %s, want 2,3", got)
	}

	back := &Client{send: make(chan []byte, 8), hub: hub}
	hub.register(back, 1)
	if len(back.send) != 2 {
		t.Errorf("backfill after seq 1 = %d envelopes, want 2", len(back.send))
	}
}

func TestHub_CloseDuringRegisterDoesNotPanic(t *testing.T) {
	hub := NewHub(nil, 16)
	for i := 0; i < 10; i++ {
		hub.Publish(ChannelRotation, i)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.register(&Client{send: make(chan []byte, 4), hub: hub}, 0)
		}()
		go func() {
			defer wg.Done()
			hub.Close()
		}()
	}
	wg.Wait()
	hub.Close()
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("clients after close = %d", n)
	}
}

// ──── Envelope and replay ────

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope(`quote"d`, []byte(`{"a":1}`), now, 42)
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != `quote"d` || env.Seq != 42 || env.TS != "2026-02-25T10:00:01Z" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}
	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(i)+3 {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, int64(i)+3)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}
	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 || got[0].Seq != 4 || got[4].Seq != 8 {
		t.Errorf("Range after wrap = %+v", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	if got := NewReplayBuffer(10).Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
}
