// Package realtime keeps WebSocket subscriptions per symbol and pushes kline updates to them.
package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Connection is a subscriber. Send must not block: it either queues the message or fails.
type Connection interface {
	ID() string
	Send(message []byte) error
}

type symbolEntry struct {
	conns map[Connection]struct{}
	last  []byte
}

// Registry maps subscription keys to connections and remembers the last payload per key
type Registry struct {
	mu      sync.Mutex
	symbols map[string]*symbolEntry
	logger  logrus.FieldLogger
}

// Stats is the registry snapshot served by /ws/stats
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveSymbols    int            `json:"active_symbols"`
	Symbols          map[string]int `json:"symbols"`
}

// NewRegistry creates an empty registry
func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		symbols: make(map[string]*symbolEntry),
		logger:  logger,
	}
}

// Subscribe adds conn to symbol and replays the last payload to it, if any.
// A failed replay is logged and the subscription kept.
func (r *Registry) Subscribe(conn Connection, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.symbols[symbol]
	if !ok {
		entry = &symbolEntry{conns: make(map[Connection]struct{})}
		r.symbols[symbol] = entry
	}
	entry.conns[conn] = struct{}{}

	if entry.last != nil {
		if err := conn.Send(entry.last); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"symbol": symbol,
				"conn":   conn.ID(),
			}).Warn("failed to replay last kline to new subscriber")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"symbol":      symbol,
		"conn":        conn.ID(),
		"subscribers": len(entry.conns),
		"total":       r.totalLocked(),
	}).Info("websocket subscribed")
}

// Unsubscribe removes conn from symbol. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(conn Connection, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeLocked(conn, symbol) {
		r.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"conn":   conn.ID(),
			"total":  r.totalLocked(),
		}).Info("websocket unsubscribed")
	}
}

// Disconnect removes conn from every symbol and returns the symbols it left
func (r *Registry) Disconnect(conn Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for symbol, entry := range r.symbols {
		if _, ok := entry.conns[conn]; ok {
			left = append(left, symbol)
		}
	}
	for _, symbol := range left {
		r.removeLocked(conn, symbol)
	}
	sort.Strings(left)
	return left
}

// removeLocked drops conn from symbol and garbage-collects the entry once empty
func (r *Registry) removeLocked(conn Connection, symbol string) bool {
	entry, ok := r.symbols[symbol]
	if !ok {
		return false
	}
	if _, ok := entry.conns[conn]; !ok {
		return false
	}
	delete(entry.conns, conn)
	if len(entry.conns) == 0 {
		delete(r.symbols, symbol)
	}
	return true
}

// Publish serializes payload once, caches it as the symbol's last value and sends it
// to every subscriber. Connections whose send fails are unsubscribed after the fan-out.
// Publishing to a symbol without subscribers is a no-op.
func (r *Registry) Publish(symbol string, payload any) (int, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload for %s: %w", symbol, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.symbols[symbol]
	if !ok {
		return 0, nil
	}
	entry.last = data

	delivered := 0
	var failed []Connection
	for conn := range entry.conns {
		if err := conn.Send(data); err != nil {
			failed = append(failed, conn)
			r.logger.WithError(err).WithFields(logrus.Fields{
				"symbol": symbol,
				"conn":   conn.ID(),
			}).Warn("send failed, dropping subscriber")
			continue
		}
		delivered++
	}
	for _, conn := range failed {
		r.removeLocked(conn, symbol)
	}
	return delivered, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return append([]byte(nil), p...), nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(payload)
	}
}

// LastPayload returns the cached payload of a symbol
func (r *Registry) LastPayload(symbol string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.symbols[symbol]
	if !ok || entry.last == nil {
		return nil, false
	}
	return append([]byte(nil), entry.last...), true
}

// Symbols returns the subscribed keys, sorted
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	symbols := make([]string, 0, len(r.symbols))
	for symbol := range r.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// ConnectionCount returns the subscribers of symbol, or of all symbols when symbol is empty
func (r *Registry) ConnectionCount(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if symbol == "" {
		return r.totalLocked()
	}
	if entry, ok := r.symbols[symbol]; ok {
		return len(entry.conns)
	}
	return 0
}

func (r *Registry) totalLocked() int {
	total := 0
	for _, entry := range r.symbols {
		total += len(entry.conns)
	}
	return total
}

// Stats returns a snapshot of the registry
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		TotalConnections: r.totalLocked(),
		ActiveSymbols:    len(r.symbols),
		Symbols:          make(map[string]int, len(r.symbols)),
	}
	for symbol, entry := range r.symbols {
		stats.Symbols[symbol] = len(entry.conns)
	}
	return stats
}
