package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	binanceBaseURL  = "https://api.binance.com"
	binanceMaxLimit = 1000
)

// Binance accepts the canonical labels as-is
var binanceIntervals = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
}

type binanceDriver struct {
	client  *http.Client
	baseURL string
	creds   Credentials
}

func newBinanceDriver(client *http.Client, creds Credentials) (Driver, error) {
	if creds.Secret != "" && creds.APIKey == "" {
		return nil, fmt.Errorf("binance: api secret configured without api key")
	}
	return &binanceDriver{client: client, baseURL: binanceBaseURL, creds: creds}, nil
}

func (d *binanceDriver) headers() map[string]string {
	if d.creds.APIKey == "" {
		return nil
	}
	return map[string]string{"X-MBX-APIKEY": d.creds.APIKey}
}

// FetchOHLCV calls GET /api/v3/klines
func (d *binanceDriver) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error) {
	interval, ok := binanceIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("binance %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	base, quote := exchangePair(symbol)

	q := url.Values{}
	q.Set("symbol", base+quote)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(clampLimit(limit, binanceMaxLimit)))
	if since != nil {
		q.Set("startTime", strconv.FormatInt(*since, 10))
	}

	var raw [][]json.RawMessage
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v3/klines", q, d.headers(), &raw); err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	rows := make([]OHLCV, 0, len(raw))
	for _, cols := range raw {
		if len(cols) < 6 {
			return nil, fmt.Errorf("binance klines: short row (%d columns)", len(cols))
		}
		var row OHLCV
		for i := 0; i < 6; i++ {
			v, err := parseNumber(cols[i])
			if err != nil {
				return nil, fmt.Errorf("binance klines: %w", err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FetchMarkets calls GET /api/v3/exchangeInfo
func (d *binanceDriver) FetchMarkets(ctx context.Context) ([]Market, error) {
	var info binanceExchangeInfo
	if err := getJSON(ctx, d.client, d.baseURL, "/api/v3/exchangeInfo", nil, d.headers(), &info); err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}

	markets := make([]Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		markets = append(markets, Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	return markets, nil
}
