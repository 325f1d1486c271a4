package marketdata

import (
	"math"
	"math/rand"
	"time"
)

// assetProfile is the reference price and daily volatility used to shape synthetic series
type assetProfile struct {
	basePrice  float64
	volatility float64
}

var assetProfiles = map[string]assetProfile{
	"BTC": {basePrice: 65000, volatility: 1200},
	"ETH": {basePrice: 3200, volatility: 180},
	"BNB": {basePrice: 570, volatility: 15},
	"SOL": {basePrice: 146, volatility: 8},
	"XRP": {basePrice: 0.50, volatility: 0.03},
	"ADA": {basePrice: 0.45, volatility: 0.025},
}

var defaultAssetProfile = assetProfile{basePrice: 100, volatility: 5}

const (
	// maximum excursion of the linear drift as a fraction of the base price
	syntheticDriftFraction = 0.02
	// prices never fall below this fraction of the base price
	syntheticPriceFloor = 0.01
)

type syntheticConfig struct {
	seed    int64
	hasSeed bool
	now     func() time.Time
}

// SyntheticOption customizes GenerateSynthetic
type SyntheticOption func(*syntheticConfig)

// WithSeed makes the generated series reproducible
func WithSeed(seed int64) SyntheticOption {
	return func(c *syntheticConfig) {
		c.seed = seed
		c.hasSeed = true
	}
}

// WithClock overrides the time source used to anchor the last bar
func WithClock(now func() time.Time) SyntheticOption {
	return func(c *syntheticConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// GenerateSynthetic produces limit plausible candles ending at the current bucket.
// The result is ascending, evenly spaced by the timeframe and never empty.
func GenerateSynthetic(symbol, timeframe string, limit int, opts ...SyntheticOption) []Candle {
	cfg := syntheticConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasSeed {
		cfg.seed = time.Now().UnixNano()
	}
	if limit < 1 {
		limit = 1
	}

	step := TimeframeDuration(timeframe)
	end := cfg.now().UTC().Truncate(step)

	profile, ok := assetProfiles[BaseAsset(symbol)]
	if !ok {
		profile = defaultAssetProfile
	}
	rng := rand.New(rand.NewSource(cfg.seed))

	floor := profile.basePrice * syntheticPriceFloor
	drift := profile.basePrice * syntheticDriftFraction / float64(limit)

	changes := make([]float64, limit)
	var sumAbs float64
	for i := range changes {
		t := 0.0
		if limit > 1 {
			t = -1 + 2*float64(i)/float64(limit-1)
		}
		changes[i] = rng.NormFloat64()*profile.volatility*0.01 + t*drift
		sumAbs += math.Abs(changes[i])
	}
	meanAbs := sumAbs / float64(limit)

	candles := make([]Candle, limit)
	price := profile.basePrice
	for i := range candles {
		price = math.Max(price+changes[i], floor)
		closePrice := price
		openPrice := math.Max(closePrice-rng.NormFloat64()*profile.volatility*0.005, floor)

		high := math.Max(openPrice, closePrice) + math.Abs(rng.NormFloat64())*profile.volatility*0.008
		low := math.Max(math.Min(openPrice, closePrice)-math.Abs(rng.NormFloat64())*profile.volatility*0.008, 0)

		factor := 1.0
		if meanAbs > 0 {
			factor = math.Abs(changes[i]) / meanAbs
		}

		candles[i] = Candle{
			Timestamp: end.Add(-time.Duration(limit-1-i) * step).UnixMilli(),
			Open:      openPrice,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    profile.basePrice * 10 * (0.5 + factor),
		}
	}
	return candles
}
