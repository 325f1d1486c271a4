package marketdata

import (
	"errors"
	"math"
	"time"
)

// Sentinel errors returned by exchange clients and drivers
var (
	ErrUnknownExchange      = errors.New("unknown exchange")
	ErrNotSupported         = errors.New("operation not supported by exchange")
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrNoData               = errors.New("no candle data")
)

// Candle is one OHLCV bar. Timestamp is the bar open time in epoch milliseconds.
type Candle struct {
	Timestamp int64   `json:"time" bson:"ts"`
	Open      float64 `json:"open" bson:"open"`
	High      float64 `json:"high" bson:"high"`
	Low       float64 `json:"low" bson:"low"`
	Close     float64 `json:"close" bson:"close"`
	Volume    float64 `json:"volume" bson:"volume"`
}

// Time returns the bar open time in UTC
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Valid reports whether the candle satisfies the OHLC invariant and carries no negative or non-finite values
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	if c.Timestamp < 0 {
		return false
	}
	return c.High >= math.Max(c.Open, c.Close) && c.Low <= math.Min(c.Open, c.Close)
}

// OHLCV is a raw upstream row: timestamp, open, high, low, close, volume
type OHLCV [6]float64

// Candle converts the raw row
func (r OHLCV) Candle() Candle {
	return Candle{
		Timestamp: int64(r[0]),
		Open:      r[1],
		High:      r[2],
		Low:       r[3],
		Close:     r[4],
		Volume:    r[5],
	}
}

// Source identifies where a candle sequence came from
type Source string

const (
	SourceLive      Source = "live"
	SourceSynthetic Source = "synthetic"
)

// FallbackReason explains why synthetic data was served instead of live data
type FallbackReason string

const (
	ReasonNone          FallbackReason = "none"
	ReasonUnsupported   FallbackReason = "unsupported"
	ReasonUpstreamError FallbackReason = "upstream_error"
	ReasonEmptyResult   FallbackReason = "empty_result"
)

// Credentials hold the optional API key material of one exchange
type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// IsZero reports whether no credential field is set
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.Secret == "" && c.Password == ""
}

// FetchRequest describes a candle query
type FetchRequest struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Limit     int
	Since     *int64
}

// FetchResult is the outcome of a candle query. Candles is never empty.
// Err keeps the upstream failure, if any, for diagnostics only.
type FetchResult struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Candles   []Candle
	Source    Source
	Reason    FallbackReason
	Err       error
}

// Market is one tradable pair listed by an exchange
type Market struct {
	Symbol string
	Base   string
	Quote  string
	Active bool
}
