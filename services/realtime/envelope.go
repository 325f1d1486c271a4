package realtime

import (
	"strings"

	"tradingroad_backend/services/marketdata"
)

// MessageTypeKlineUpdate tags every pushed kline
const MessageTypeKlineUpdate = "kline_update"

// KlineEnvelope is the JSON message pushed to subscribers
type KlineEnvelope struct {
	Type      string            `json:"type"`
	Symbol    string            `json:"symbol"`
	Exchange  string            `json:"exchange"`
	Interval  string            `json:"interval"`
	Timestamp int64             `json:"timestamp"`
	Data      marketdata.Candle `json:"data"`
}

// SubscriptionKey builds the registry key for a WebSocket path symbol and an optional
// exchange query parameter. A symbol that already names an exchange wins.
func SubscriptionKey(symbol, exchange string) string {
	symbol = strings.TrimPrefix(symbol, "/")
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if exchange == "" || strings.Contains(symbol, ":") {
		return symbol
	}
	return marketdata.CompoundSymbol(exchange, symbol)
}
