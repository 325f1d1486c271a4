package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradingroad_backend/services/marketdata"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "archive.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func candleAt(ts int64, closePrice float64) marketdata.Candle {
	return marketdata.Candle{Timestamp: ts, Open: closePrice, High: closePrice + 1, Low: closePrice - 1, Close: closePrice, Volume: 10}
}

func TestSQLiteSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	candles := []marketdata.Candle{candleAt(1000, 10), candleAt(2000, 11), candleAt(3000, 12)}
	if err := store.SaveCandles(ctx, "binance", "BTC/USDT", "1m", candles); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
	// upsert replaces the bar instead of duplicating it
	if err := store.SaveCandles(ctx, "binance", "BTC/USDT", "1m", []marketdata.Candle{candleAt(3000, 13)}); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
	store.SaveCandles(ctx, "bybit", "BTC/USDT", "1m", []marketdata.Candle{candleAt(4000, 99)})

	got, err := store.LoadCandles(ctx, "binance", "BTC/USDT", "1m", 2)
	if err != nil {
		t.Fatalf("LoadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Timestamp != 2000 || got[1].Timestamp != 3000 || got[1].Close != 13 {
		t.Errorf("got %+v", got)
	}
}

func TestSQLitePrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.SaveCandles(ctx, "binance", "ETH/USDT", "1h", []marketdata.Candle{candleAt(1000, 1), candleAt(5000, 2)})

	n, err := store.Prune(ctx, time.UnixMilli(3000))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	got, _ := store.LoadCandles(ctx, "binance", "ETH/USDT", "1h", 10)
	if len(got) != 1 || got[0].Timestamp != 5000 {
		t.Errorf("remaining = %+v", got)
	}
}
