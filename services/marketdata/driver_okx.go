package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	okxBaseURL  = "https://www.okx.com"
	okxMaxLimit = 300
)

var okxBars = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "3d": "3D", "1w": "1W", "1M": "1M",
}

type okxDriver struct {
	client  *http.Client
	baseURL string
	creds   Credentials
}

func newOKXDriver(client *http.Client, creds Credentials) (Driver, error) {
	if creds.APIKey != "" && creds.Password == "" {
		return nil, fmt.Errorf("okx: api key configured without passphrase")
	}
	return &okxDriver{client: client, baseURL: okxBaseURL, creds: creds}, nil
}

type okxResponse[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// FetchOHLCV calls GET /api/v5/market/candles
func (d *okxDriver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error) {
	bar, ok := okxBars[timeframe]
	if !ok {
		return nil, fmt.Errorf("okx %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	base, quote := exchangePair(symbol)

	q := url.Values{}
	q.Set("instId", base+"-"+quote)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(clampLimit(limit, okxMaxLimit)))
	if since != nil {
		q.Set("before", strconv.FormatInt(*since-1, 10))
	}

	var resp okxResponse[[][]string]
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v5/market/candles", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("okx candles: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx candles: code %s: %s", resp.Code, resp.Msg)
	}

	rows := make([]OHLCV, 0, len(resp.Data))
	for _, cols := range resp.Data {
		row, err := rowFromStrings(cols)
		if err != nil {
			return nil, fmt.Errorf("okx candles: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchMarkets calls GET /api/v5/public/instruments for spot instruments
func (d *okxDriver) FetchMarkets(ctx context.Context) ([]Market, error) {
	q := url.Values{}
	q.Set("instType", "SPOT")

	var resp okxResponse[[]struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
	}]
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v5/public/instruments", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("okx instruments: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx instruments: code %s: %s", resp.Code, resp.Msg)
	}

	markets := make([]Market, 0, len(resp.Data))
	for _, s := range resp.Data {
		markets = append(markets, Market{
			Symbol: s.BaseCcy + "/" + s.QuoteCcy,
			Base:   s.BaseCcy,
			Quote:  s.QuoteCcy,
			Active: s.State == "live",
		})
	}
	return markets, nil
}
