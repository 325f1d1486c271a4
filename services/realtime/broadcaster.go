package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradingroad_backend/services/marketdata"
)

const (
	DefaultBroadcastInterval  = 5 * time.Second
	DefaultBroadcastTimeframe = "1m"
	DefaultFetchTimeout       = 20 * time.Second
)

// ErrAlreadyRunning is returned by Start when the loop is active
var ErrAlreadyRunning = errors.New("broadcaster already running")

// CandleSource provides the latest candle of a symbol
type CandleSource interface {
	LatestCandle(ctx context.Context, exchangeID, symbol, timeframe string) (marketdata.Candle, error)
}

// BroadcasterConfig tunes the broadcast loop
type BroadcasterConfig struct {
	Interval        time.Duration
	Timeframe       string
	DefaultExchange string
	FetchTimeout    time.Duration
}

func (c BroadcasterConfig) withDefaults() BroadcasterConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultBroadcastInterval
	}
	if c.Timeframe == "" {
		c.Timeframe = DefaultBroadcastTimeframe
	}
	c.Timeframe = marketdata.TimeframeToCanonical(c.Timeframe)
	if c.DefaultExchange == "" {
		c.DefaultExchange = marketdata.DefaultExchange
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// IterationStats summarizes one pass over the subscribed symbols
type IterationStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Symbols   int           `json:"symbols"`
	Published int           `json:"published"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

// Broadcaster periodically fetches the latest candle of every subscribed symbol and
// publishes it. At most one loop runs at a time.
type Broadcaster struct {
	registry *Registry
	source   CandleSource
	cfg      BroadcasterConfig
	logger   logrus.FieldLogger
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	stopping   bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	iterations uint64
	last       IterationStats
}

// NewBroadcaster creates a stopped broadcaster
func NewBroadcaster(registry *Registry, source CandleSource, cfg BroadcasterConfig, logger logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		source:   source,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the loop. It returns ErrAlreadyRunning while a loop is active or stopping.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyRunning
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	go b.loop(ctx, b.stopCh, b.doneCh)

	b.logger.WithFields(logrus.Fields{
		"interval":  b.cfg.Interval.String(),
		"timeframe": b.cfg.Timeframe,
	}).Info("kline broadcaster started")
	return nil
}

// Stop signals the loop and waits for the in-flight iteration to finish
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	if !b.stopping {
		b.stopping = true
		close(b.stopCh)
	}
	done := b.doneCh
	b.mu.Unlock()

	<-done
	b.logger.Info("kline broadcaster stopped")
}

// IsRunning reports whether the loop is active
func (b *Broadcaster) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.stopping
}

func (b *Broadcaster) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		b.mu.Lock()
		if b.doneCh == done {
			b.running = false
			b.stopping = false
		}
		b.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		b.RunIteration(ctx)

		timer := time.NewTimer(b.cfg.Interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunIteration performs one pass: every symbol with at least one subscriber gets its
// latest candle published. Per-symbol failures are logged and counted.
func (b *Broadcaster) RunIteration(ctx context.Context) IterationStats {
	stats := IterationStats{StartedAt: b.now()}
	symbols := b.registry.Symbols()
	stats.Symbols = len(symbols)

	for _, key := range symbols {
		if b.registry.ConnectionCount(key) == 0 {
			stats.Skipped++
			continue
		}
		if err := b.processSymbol(ctx, key); err != nil {
			stats.Failed++
			b.logger.WithError(err).WithField("symbol", key).Warn("kline broadcast failed")
			continue
		}
		stats.Published++
	}

	stats.Duration = b.now().Sub(stats.StartedAt)

	b.mu.Lock()
	b.iterations++
	b.last = stats
	b.mu.Unlock()

	if stats.Symbols > 0 {
		b.logger.WithFields(logrus.Fields{
			"symbols":   stats.Symbols,
			"published": stats.Published,
			"failed":    stats.Failed,
		}).Debug("broadcast iteration complete")
	}
	return stats
}

// processSymbol fetches and publishes one key, turning panics into errors
func (b *Broadcaster) processSymbol(ctx context.Context, key string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	exchange, symbol := marketdata.ParseCompoundSymbol(key, b.cfg.DefaultExchange)

	// a stop request must not abandon a fetch midway
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.FetchTimeout)
	defer cancel()

	candle, err := b.source.LatestCandle(fetchCtx, exchange, symbol, b.cfg.Timeframe)
	if err != nil {
		return err
	}

	envelope := KlineEnvelope{
		Type:      MessageTypeKlineUpdate,
		Symbol:    symbol,
		Exchange:  exchange,
		Interval:  b.cfg.Timeframe,
		Timestamp: b.now().UnixMilli(),
		Data:      candle,
	}
	_, err = b.registry.Publish(key, envelope)
	return err
}

// BroadcasterStatus is reported by the control endpoints
type BroadcasterStatus struct {
	Running         bool           `json:"running"`
	Interval        string         `json:"interval"`
	Timeframe       string         `json:"timeframe"`
	DefaultExchange string         `json:"default_exchange"`
	Iterations      uint64         `json:"iterations"`
	LastIteration   IterationStats `json:"last_iteration"`
	Connections     int            `json:"connections"`
	Symbols         int            `json:"symbols"`
}

// Status returns the loop state
func (b *Broadcaster) Status() BroadcasterStatus {
	stats := b.registry.Stats()

	b.mu.Lock()
	defer b.mu.Unlock()
	return BroadcasterStatus{
		Running:         b.running && !b.stopping,
		Interval:        b.cfg.Interval.String(),
		Timeframe:       b.cfg.Timeframe,
		DefaultExchange: b.cfg.DefaultExchange,
		Iterations:      b.iterations,
		LastIteration:   b.last,
		Connections:     stats.TotalConnections,
		Symbols:         stats.ActiveSymbols,
	}
}
