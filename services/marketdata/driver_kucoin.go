package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const kucoinBaseURL = "https://api.kucoin.com"

var kucoinTypes = map[string]string{
	"1m": "1min", "3m": "3min", "5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "1hour", "2h": "2hour", "4h": "4hour", "6h": "6hour", "8h": "8hour", "12h": "12hour",
	"1d": "1day", "1w": "1week",
}

type kucoinDriver struct {
	client  *http.Client
	baseURL string
	creds   Credentials
	now     func() time.Time
}

func newKuCoinDriver(client *http.Client, creds Credentials) (Driver, error) {
	if creds.APIKey != "" && creds.Password == "" {
		return nil, fmt.Errorf("kucoin: api key configured without passphrase")
	}
	return &kucoinDriver{client: client, baseURL: kucoinBaseURL, creds: creds, now: time.Now}, nil
}

type kucoinResponse[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// FetchOHLCV calls GET /api/v1/market/candles. KuCoin has no limit parameter,
// so the window is derived from the limit and the bar length.
func (d *kucoinDriver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error) {
	candleType, ok := kucoinTypes[timeframe]
	if !ok {
		return nil, fmt.Errorf("kucoin %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	base, quote := exchangePair(symbol)
	step := TimeframeDuration(timeframe)

	var start time.Time
	if since != nil {
		start = time.UnixMilli(*since)
	} else {
		start = d.now().Add(-time.Duration(clampLimit(limit, 1500)) * step)
	}

	q := url.Values{}
	q.Set("type", candleType)
	q.Set("symbol", base+"-"+quote)
	q.Set("startAt", strconv.FormatInt(start.Unix(), 10))
	if since != nil {
		end := start.Add(time.Duration(clampLimit(limit, 1500)) * step)
		q.Set("endAt", strconv.FormatInt(end.Unix(), 10))
	}

	var resp kucoinResponse[[][]string]
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v1/market/candles", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("kucoin candles: %w", err)
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("kucoin candles: code %s: %s", resp.Code, resp.Msg)
	}

	// columns: time (seconds), open, close, high, low, volume, turnover
	rows := make([]OHLCV, 0, len(resp.Data))
	for _, cols := range resp.Data {
		if len(cols) < 6 {
			return nil, fmt.Errorf("kucoin candles: short row (%d columns)", len(cols))
		}
		row, err := rowFromStrings([]string{cols[0], cols[1], cols[3], cols[4], cols[2], cols[5]})
		if err != nil {
			return nil, fmt.Errorf("kucoin candles: %w", err)
		}
		row[0] *= 1000
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchMarkets calls GET /api/v2/symbols
func (d *kucoinDriver) FetchMarkets(ctx context.Context) ([]Market, error) {
	var resp kucoinResponse[[]struct {
		Symbol        string `json:"symbol"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		EnableTrading bool   `json:"enableTrading"`
	}]
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v2/symbols", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("kucoin symbols: code %s: %s", resp.Code, resp.Msg)
	}

	markets := make([]Market, 0, len(resp.Data))
	for _, s := range resp.Data {
		markets = append(markets, Market{
			Symbol: s.BaseCurrency + "/" + s.QuoteCurrency,
			Base:   s.BaseCurrency,
			Quote:  s.QuoteCurrency,
			Active: s.EnableTrading,
		})
	}
	return markets, nil
}
