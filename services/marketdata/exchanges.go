package marketdata

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Capability flags reported by exchange clients
const (
	FeatureFetchOHLCV     = "fetchOHLCV"
	FeatureFetchTicker    = "fetchTicker"
	FeatureFetchOrderBook = "fetchOrderBook"
	FeatureFetchMarkets   = "fetchMarkets"
)

// DefaultExchange is substituted whenever a requested exchange cannot be served
const DefaultExchange = "binance"

// Driver talks to one exchange's public REST API
type Driver interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, since *int64) ([]OHLCV, error)
	FetchMarkets(ctx context.Context) ([]Market, error)
}

// DriverConstructor builds a driver for the given credentials
type DriverConstructor func(httpClient *http.Client, creds Credentials) (Driver, error)

// ExchangeSpec describes one recognized exchange
type ExchangeSpec struct {
	ID        string
	Name      string
	Features  map[string]bool
	RateLimit time.Duration
	NewDriver DriverConstructor
}

var marketDataFeatures = map[string]bool{
	FeatureFetchOHLCV:     true,
	FeatureFetchTicker:    true,
	FeatureFetchOrderBook: true,
	FeatureFetchMarkets:   true,
}

// catalog of recognized exchange ids. Entries without a driver are listed
// but report no market-data capability.
var exchangeCatalog = map[string]ExchangeSpec{
	"binance":  {ID: "binance", Name: "Binance", Features: marketDataFeatures, RateLimit: 50 * time.Millisecond, NewDriver: newBinanceDriver},
	"bybit":    {ID: "bybit", Name: "Bybit", Features: marketDataFeatures, RateLimit: 20 * time.Millisecond, NewDriver: newBybitDriver},
	"okx":      {ID: "okx", Name: "OKX", Features: marketDataFeatures, RateLimit: 100 * time.Millisecond, NewDriver: newOKXDriver},
	"kucoin":   {ID: "kucoin", Name: "KuCoin", Features: marketDataFeatures, RateLimit: 100 * time.Millisecond, NewDriver: newKuCoinDriver},
	"coinbase": {ID: "coinbase", Name: "Coinbase Advanced"},
	"kraken":   {ID: "kraken", Name: "Kraken"},
	"bitget":   {ID: "bitget", Name: "Bitget"},
	"mexc":     {ID: "mexc", Name: "MEXC Global"},
	"gateio":   {ID: "gateio", Name: "Gate.io"},
	"htx":      {ID: "htx", Name: "HTX"},
}

// popular exchanges are listed first, in this order
var popularExchanges = []string{"binance", "bybit", "kucoin", "okx", "coinbase", "kraken", "bitget", "mexc"}

// LookupExchange returns the catalog entry for an exchange id
func LookupExchange(id string) (ExchangeSpec, bool) {
	spec, ok := exchangeCatalog[id]
	return spec, ok
}

// KnownExchanges returns every recognized exchange id, popular ones first and the rest sorted
func KnownExchanges() []string {
	seen := make(map[string]bool, len(exchangeCatalog))
	ids := make([]string, 0, len(exchangeCatalog))
	for _, id := range popularExchanges {
		if _, ok := exchangeCatalog[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	rest := make([]string, 0, len(exchangeCatalog))
	for id := range exchangeCatalog {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}
