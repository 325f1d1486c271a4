package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tradingroad_backend/services/marketdata"
)

type sourceCall struct {
	exchange, symbol, timeframe string
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []sourceCall
	fail    map[string]error
	panicOn string
	delay   time.Duration
}

func (s *fakeSource) LatestCandle(ctx context.Context, exchange, symbol, timeframe string) (marketdata.Candle, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls = append(s.calls, sourceCall{exchange, symbol, timeframe})
	s.mu.Unlock()

	if symbol == s.panicOn {
		panic("upstream went sideways")
	}
	if err := s.fail[symbol]; err != nil {
		return marketdata.Candle{}, err
	}
	return marketdata.Candle{Timestamp: 1_700_000_000_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestBroadcaster(src CandleSource) (*Registry, *Broadcaster) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, src, BroadcasterConfig{Interval: 10 * time.Millisecond}, testLogger())
	b.now = func() time.Time { return time.UnixMilli(1_700_000_123_456) }
	return reg, b
}

func TestRunIterationPublishesEnvelope(t *testing.T) {
	src := &fakeSource{}
	reg, b := newTestBroadcaster(src)
	plain, compound := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	reg.Subscribe(plain, "BTC/USDT")
	reg.Subscribe(compound, "bybit:ETH/USDT")

	stats := b.RunIteration(context.Background())
	if stats.Symbols != 2 || stats.Published != 2 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	var env KlineEnvelope
	msgs := plain.messages()
	if len(msgs) != 1 {
		t.Fatalf("plain subscriber got %d messages", len(msgs))
	}
	if err := json.Unmarshal([]byte(msgs[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "kline_update" || env.Symbol != "BTC/USDT" || env.Exchange != "binance" || env.Interval != "1m" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Timestamp != 1_700_000_123_456 || env.Data.Close != 1.5 {
		t.Errorf("envelope timestamp/data = %d/%+v", env.Timestamp, env.Data)
	}

	msgs = compound.messages()
	if len(msgs) != 1 {
		t.Fatalf("compound subscriber got %d messages", len(msgs))
	}
	json.Unmarshal([]byte(msgs[0]), &env)
	if env.Symbol != "ETH/USDT" || env.Exchange != "bybit" {
		t.Errorf("compound envelope = %+v", env)
	}

	var raw map[string]any
	json.Unmarshal([]byte(msgs[0]), &raw)
	data, _ := raw["data"].(map[string]any)
	for _, key := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := data[key]; !ok {
			t.Errorf("data missing %q", key)
		}
	}
}

func TestRunIterationIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		fail:    map[string]error{"BAD/USDT": errors.New("exchange down")},
		panicOn: "BOOM/USDT",
	}
	reg, b := newTestBroadcaster(src)
	good := &fakeConn{id: "good"}
	reg.Subscribe(&fakeConn{id: "x"}, "BAD/USDT")
	reg.Subscribe(&fakeConn{id: "y"}, "BOOM/USDT")
	reg.Subscribe(good, "ETH/USDT")

	stats := b.RunIteration(context.Background())
	if stats.Published != 1 || stats.Failed != 2 {
		t.Errorf("stats = %+v, want 1 published and 2 failed", stats)
	}
	if len(good.messages()) != 1 {
		t.Errorf("healthy symbol got %d messages", len(good.messages()))
	}
}

func TestRunIterationWithoutSymbolsFetchesNothing(t *testing.T) {
	src := &fakeSource{}
	_, b := newTestBroadcaster(src)
	stats := b.RunIteration(context.Background())
	if stats.Symbols != 0 || src.callCount() != 0 {
		t.Errorf("stats = %+v, calls = %d", stats, src.callCount())
	}
}

func TestBroadcasterStartStop(t *testing.T) {
	src := &fakeSource{}
	reg, b := newTestBroadcaster(src)
	reg.Subscribe(&fakeConn{id: "a"}, "BTC/USDT")

	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !b.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.callCount() < 2 {
		t.Fatalf("loop made %d calls, want at least 2", src.callCount())
	}

	b.Stop()
	if b.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
	calls := src.callCount()
	time.Sleep(50 * time.Millisecond)
	if src.callCount() != calls {
		t.Error("loop kept fetching after Stop")
	}

	// a stopped broadcaster can be restarted
	if err := b.Start(context.Background()); err != nil {
		t.Errorf("restart: %v", err)
	}
	b.Stop()
	b.Stop()
}

func TestStopWaitsForInFlightFetch(t *testing.T) {
	src := &fakeSource{delay: 100 * time.Millisecond}
	reg, b := newTestBroadcaster(src)
	conn := &fakeConn{id: "a"}
	reg.Subscribe(conn, "BTC/USDT")

	b.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	b.Stop()

	if src.callCount() != 1 {
		t.Errorf("calls = %d, want 1", src.callCount())
	}
	if len(conn.messages()) != 1 {
		t.Errorf("in-flight iteration was abandoned, got %d messages", len(conn.messages()))
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	_, b := newTestBroadcaster(&fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for b.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.IsRunning() {
		t.Fatal("loop still running after context cancel")
	}
	if err := b.Start(context.Background()); err != nil {
		t.Errorf("Start after cancel: %v", err)
	}
	b.Stop()
}

func TestStatus(t *testing.T) {
	reg, b := newTestBroadcaster(&fakeSource{})
	reg.Subscribe(&fakeConn{id: "a"}, "BTC/USDT")
	b.RunIteration(context.Background())

	st := b.Status()
	if st.Running || st.Iterations != 1 || st.Connections != 1 || st.Timeframe != "1m" || st.DefaultExchange != "binance" {
		t.Errorf("status = %+v", st)
	}
}
