package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradingroad_backend/services/marketdata"
)

// SQLiteStore keeps candles in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite opens (creating if needed) the archive database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candlesTable := `
		CREATE TABLE IF NOT EXISTS candles (
			exchange VARCHAR NOT NULL,
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			ts INTEGER NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			archived_at INTEGER,
			PRIMARY KEY (exchange, symbol, timeframe, ts)
		)
	`
	if _, err := s.db.Exec(candlesTable); err != nil {
		return fmt.Errorf("failed to create candles table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_candles_ts ON candles (ts)`); err != nil {
		return fmt.Errorf("failed to create candles index: %w", err)
	}
	return nil
}

// SaveCandles upserts candles in one transaction
func (s *SQLiteStore) SaveCandles(ctx context.Context, exchange, symbol, timeframe string, candles []marketdata.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (exchange, symbol, timeframe, ts, open, high, low, close, volume, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, exchange, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, now); err != nil {
			return fmt.Errorf("failed to insert candle %d: %w", c.Timestamp, err)
		}
	}
	return tx.Commit()
}

// LoadCandles returns the newest limit candles in ascending order
func (s *SQLiteStore) LoadCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]marketdata.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE exchange = ? AND symbol = ? AND timeframe = ?
		ORDER BY ts DESC LIMIT ?
	`, exchange, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []marketdata.Candle
	for rows.Next() {
		var c marketdata.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reverse(candles), nil
}

// Prune deletes candles whose bar time is before olderThan
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM candles WHERE ts < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune candles: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (s *SQLiteStore) Close(context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
