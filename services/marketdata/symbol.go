package marketdata

import "strings"

// ParseCompoundSymbol splits "exchange:BASE/QUOTE" into its parts.
// A plain symbol gets the default exchange.
func ParseCompoundSymbol(raw, defaultExchange string) (exchange, symbol string) {
	if ex, sym, ok := strings.Cut(raw, ":"); ok && ex != "" && sym != "" && !strings.Contains(sym, ":") {
		return strings.ToLower(strings.TrimSpace(ex)), sym
	}
	return defaultExchange, raw
}

// CompoundSymbol joins an exchange id and a symbol into a subscription key
func CompoundSymbol(exchange, symbol string) string {
	if exchange == "" {
		return symbol
	}
	return strings.ToLower(exchange) + ":" + symbol
}

// SplitPair returns the base and quote assets of "BASE/QUOTE"
func SplitPair(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	return base, quote
}

// BaseAsset returns the upper-cased base asset of a symbol
func BaseAsset(symbol string) string {
	base, _ := SplitPair(symbol)
	return base
}
