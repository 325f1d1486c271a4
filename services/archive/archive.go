// Package archive persists live candles so they can be served back and pruned later.
package archive

import (
	"context"
	"time"

	"tradingroad_backend/services/marketdata"
)

// Store is a candle archive backend
type Store interface {
	SaveCandles(ctx context.Context, exchange, symbol, timeframe string, candles []marketdata.Candle) error
	LoadCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]marketdata.Candle, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close(ctx context.Context) error
}

// reverse flips a newest-first query result into ascending order
func reverse(candles []marketdata.Candle) []marketdata.Candle {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles
}
