// Package provider downloads daily price history and validates tickers.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"patternpilot/internal/model"
)

var (
	// ErrInvalidSymbol is returned before any network call for malformed tickers.
	ErrInvalidSymbol = errors.New("invalid symbol format")
	// ErrNoData means the upstream answered but had no bars for the range.
	ErrNoData = errors.New("no data returned")
	// ErrNetwork wraps transport failures and non-200 responses.
	ErrNetwork = errors.New("network error")
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Yahoo implements model.PriceProvider against the public chart API.
type Yahoo struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // internal alias -> Yahoo ticker
}

// NewYahoo creates a Yahoo provider, optionally routed through a proxy.
func NewYahoo(proxyURL string, timeout time.Duration) *Yahoo {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Yahoo{
		Client:  &http.Client{Timeout: timeout, Transport: transport},
		BaseURL: defaultBaseURL,
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// chartResponse is the subset of the chart API payload we read.
// Quote entries are pointers because holidays come back as null.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch downloads daily bars for start <= day <= end. A zero start means
// one year before end; a zero end means now.
func (y *Yahoo) Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error) {
	symbol = NormalizeSymbol(symbol)
	if !ValidSymbol(symbol) && y.SymbolMap[symbol] == "" {
		return model.Series{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	if !start.Before(end) {
		return model.Series{}, &model.ValidationError{Series: symbol, Field: "range", Reason: "start must be before end", Err: model.ErrInvalidRange}
	}

	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	// period2 is exclusive upstream; extend by a day so end is inclusive.
	q.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.BaseURL, url.PathEscape(y.yahooSymbol(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Series{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.Series{}, ctx.Err()
		}
		log.Printf("[yahoo] fetch %s: %v", symbol, err)
		return model.Series{}, fmt.Errorf("%w: yahoo fetch %s: %v", ErrNetwork, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Series{}, fmt.Errorf("%w: yahoo read body: %v", ErrNetwork, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.Series{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return model.Series{}, fmt.Errorf("%w: yahoo status %d for %s", ErrNetwork, resp.StatusCode, symbol)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return model.Series{}, fmt.Errorf("yahoo decode %s: %w", symbol, err)
	}
	if chart.Chart.Error != nil {
		return model.Series{}, fmt.Errorf("%w for %s: %s", ErrNoData, symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return model.Series{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, okO := at(quote.Open, i)
		h, okH := at(quote.High, i)
		l, okL := at(quote.Low, i)
		c, okC := at(quote.Close, i)
		if !okO || !okH || !okL || !okC {
			continue // null bar (holiday, halted session)
		}
		v, _ := at(quote.Volume, i)
		bars = append(bars, model.Bar{
			TS:     time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	if len(bars) == 0 {
		return model.Series{}, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return model.Series{Symbol: symbol, Bars: dedupe(bars)}, nil
}

func at(values []*float64, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	return *values[i], true
}

// dedupe keeps the last bar for any repeated timestamp so the series
// passes Validate.
func dedupe(bars []model.Bar) []model.Bar {
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].TS.Equal(b.TS) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
