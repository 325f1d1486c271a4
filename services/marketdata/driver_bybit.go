package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	bybitBaseURL  = "https://api.bybit.com"
	bybitMaxLimit = 1000
)

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

type bybitDriver struct {
	client  *http.Client
	baseURL string
	creds   Credentials
}

func newBybitDriver(client *http.Client, creds Credentials) (Driver, error) {
	if creds.Secret != "" && creds.APIKey == "" {
		return nil, fmt.Errorf("bybit: api secret configured without api key")
	}
	return &bybitDriver{client: client, baseURL: bybitBaseURL, creds: creds}, nil
}

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// FetchOHLCV calls GET /v5/market/kline for the spot category
func (d *bybitDriver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error) {
	interval, ok := bybitIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("bybit %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	base, quote := exchangePair(symbol)

	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", base+quote)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(clampLimit(limit, bybitMaxLimit)))
	if since != nil {
		q.Set("start", strconv.FormatInt(*since, 10))
	}

	var resp bybitResponse[struct {
		List [][]string `json:"list"`
	}]
	if err := getJSON(ctx, d.client, d.baseURL, "/v5/market/kline", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}

	// newest first upstream; ordering is normalized by the service
	rows := make([]OHLCV, 0, len(resp.Result.List))
	for _, cols := range resp.Result.List {
		row, err := rowFromStrings(cols)
		if err != nil {
			return nil, fmt.Errorf("bybit kline: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchMarkets calls GET /v5/market/instruments-info for the spot category
func (d *bybitDriver) FetchMarkets(ctx context.Context) ([]Market, error) {
	q := url.Values{}
	q.Set("category", "spot")

	var resp bybitResponse[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	}]
	if err := getJSON(ctx, d.client, d.baseURL, "/v5/market/instruments-info", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}

	markets := make([]Market, 0, len(resp.Result.List))
	for _, s := range resp.Result.List {
		markets = append(markets, Market{
			Symbol: s.BaseCoin + "/" + s.QuoteCoin,
			Base:   s.BaseCoin,
			Quote:  s.QuoteCoin,
			Active: s.Status == "Trading",
		})
	}
	return markets, nil
}
