package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, append([]byte(nil), message...))
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = string(m)
	}
	return out
}

func TestPublishToUnknownSymbolIsNoop(t *testing.T) {
	r := NewRegistry(testLogger())
	n, err := r.Publish("BTC/USDT", map[string]int{"a": 1})
	if err != nil || n != 0 {
		t.Fatalf("Publish = %d, %v", n, err)
	}
	if len(r.Symbols()) != 0 {
		t.Errorf("symbols = %v, want none", r.Symbols())
	}
	if _, ok := r.LastPayload("BTC/USDT"); ok {
		t.Error("payload cached for symbol without subscribers")
	}
}

func TestSubscribeReplaysLastPayload(t *testing.T) {
	r := NewRegistry(testLogger())
	first := &fakeConn{id: "a"}
	r.Subscribe(first, "BTC/USDT")

	if _, err := r.Publish("BTC/USDT", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}

	late := &fakeConn{id: "b"}
	r.Subscribe(late, "BTC/USDT")

	got := late.messages()
	if len(got) != 1 || got[0] != `{"n":1}` {
		t.Fatalf("late joiner got %v, want replay of last payload", got)
	}

	r.Publish("BTC/USDT", map[string]int{"n": 2})
	got = late.messages()
	if len(got) != 2 || got[1] != `{"n":2}` {
		t.Errorf("replay must precede later publishes, got %v", got)
	}
}

func TestSubscribeWithoutCachedPayloadSendsNothing(t *testing.T) {
	r := NewRegistry(testLogger())
	c := &fakeConn{id: "a"}
	r.Subscribe(c, "ETH/USDT")
	if len(c.messages()) != 0 {
		t.Errorf("got %v, want no messages", c.messages())
	}
}

func TestReplayFailureKeepsSubscription(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Subscribe(&fakeConn{id: "a"}, "BTC/USDT")
	r.Publish("BTC/USDT", "x")

	broken := &fakeConn{id: "b", fail: true}
	r.Subscribe(broken, "BTC/USDT")
	if got := r.ConnectionCount("BTC/USDT"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}

func TestUnsubscribeGarbageCollectsSymbol(t *testing.T) {
	r := NewRegistry(testLogger())
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	r.Subscribe(a, "BTC/USDT")
	r.Subscribe(b, "BTC/USDT")
	r.Publish("BTC/USDT", "x")

	r.Unsubscribe(a, "BTC/USDT")
	if got := r.ConnectionCount("BTC/USDT"); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	r.Unsubscribe(b, "BTC/USDT")

	if len(r.Symbols()) != 0 {
		t.Errorf("symbols = %v, want none", r.Symbols())
	}
	if _, ok := r.LastPayload("BTC/USDT"); ok {
		t.Error("cached payload survived the last unsubscribe")
	}

	// resubscribing starts without a replay
	c := &fakeConn{id: "c"}
	r.Subscribe(c, "BTC/USDT")
	if len(c.messages()) != 0 {
		t.Errorf("stale replay delivered: %v", c.messages())
	}
}

func TestUnsubscribeUnknownPairIsNoop(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Unsubscribe(&fakeConn{id: "x"}, "NOPE/USDT")
	a := &fakeConn{id: "a"}
	r.Subscribe(a, "BTC/USDT")
	r.Unsubscribe(&fakeConn{id: "x"}, "BTC/USDT")
	if got := r.ConnectionCount(""); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
}

func TestPublishDropsFailedConnections(t *testing.T) {
	r := NewRegistry(testLogger())
	good := &fakeConn{id: "good"}
	bad := &fakeConn{id: "bad", fail: true}
	r.Subscribe(good, "BTC/USDT")
	r.Subscribe(bad, "BTC/USDT")

	n, err := r.Publish("BTC/USDT", "x")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := r.ConnectionCount("BTC/USDT"); got != 1 {
		t.Errorf("count after failed send = %d, want 1", got)
	}
}

func TestPublishAllFailedRemovesSymbol(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Subscribe(&fakeConn{id: "a", fail: true}, "BTC/USDT")
	r.Publish("BTC/USDT", "x")
	if len(r.Symbols()) != 0 {
		t.Errorf("symbols = %v, want none", r.Symbols())
	}
}

func TestPublishSerializationError(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Subscribe(&fakeConn{id: "a"}, "BTC/USDT")
	if _, err := r.Publish("BTC/USDT", make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}

func TestDisconnectRemovesEverySubscription(t *testing.T) {
	r := NewRegistry(testLogger())
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	r.Subscribe(a, "BTC/USDT")
	r.Subscribe(a, "bybit:ETH/USDT")
	r.Subscribe(b, "BTC/USDT")

	left := r.Disconnect(a)
	if len(left) != 2 {
		t.Errorf("left = %v, want 2 symbols", left)
	}

	stats := r.Stats()
	if stats.TotalConnections != 1 || stats.ActiveSymbols != 1 || stats.Symbols["BTC/USDT"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	data, _ := json.Marshal(stats)
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	for _, key := range []string{"total_connections", "active_symbols", "symbols"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("stats JSON missing %q: %s", key, data)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: string(rune('a' + i))}
			r.Subscribe(c, "BTC/USDT")
			r.Publish("BTC/USDT", i)
			r.Disconnect(c)
		}(i)
	}
	wg.Wait()

	if got := r.ConnectionCount(""); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}
}

func TestSubscriptionKey(t *testing.T) {
	tests := []struct {
		symbol, exchange, want string
	}{
		{"/BTC/USDT", "", "BTC/USDT"},
		{"BTC/USDT", "Bybit", "bybit:BTC/USDT"},
		{"okx:BTC/USDT", "bybit", "okx:BTC/USDT"},
	}
	for _, tt := range tests {
		if got := SubscriptionKey(tt.symbol, tt.exchange); got != tt.want {
			t.Errorf("SubscriptionKey(%q, %q) = %q, want %q", tt.symbol, tt.exchange, got, tt.want)
		}
	}
}
