package marketdata

import "time"

// Canonical timeframe labels, ordered by duration
var CanonicalTimeframes = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

var timeframeMinutes = map[string]int{
	"1m":  1,
	"3m":  3,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"2h":  120,
	"4h":  240,
	"6h":  360,
	"8h":  480,
	"12h": 720,
	"1d":  1440,
	"3d":  4320,
	"1w":  10080,
	"1M":  43200,
}

// numeric minute aliases accepted from clients
var minuteAliases = map[string]string{
	"1":     "1m",
	"3":     "3m",
	"5":     "5m",
	"15":    "15m",
	"30":    "30m",
	"60":    "1h",
	"120":   "2h",
	"240":   "4h",
	"360":   "6h",
	"480":   "8h",
	"720":   "12h",
	"1440":  "1d",
	"4320":  "3d",
	"10080": "1w",
	"43200": "1M",
}

// DefaultTimeframeMinutes is used for labels outside the table
const DefaultTimeframeMinutes = 60

// TimeframeToCanonical maps a raw timeframe to its canonical label.
// Unknown values pass through unchanged.
func TimeframeToCanonical(raw string) string {
	if _, ok := timeframeMinutes[raw]; ok {
		return raw
	}
	if label, ok := minuteAliases[raw]; ok {
		return label
	}
	return raw
}

// IsCanonicalTimeframe reports whether tf is one of the canonical labels
func IsCanonicalTimeframe(tf string) bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// TimeframeMinutes returns the bar length of a timeframe in minutes
func TimeframeMinutes(tf string) int {
	if m, ok := timeframeMinutes[TimeframeToCanonical(tf)]; ok {
		return m
	}
	return DefaultTimeframeMinutes
}

// TimeframeDuration returns the bar length of a timeframe
func TimeframeDuration(tf string) time.Duration {
	return time.Duration(TimeframeMinutes(tf)) * time.Minute
}
