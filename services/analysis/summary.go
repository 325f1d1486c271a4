package analysis

import "fmt"

// Trend labels
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Summary is the combined indicator snapshot of the latest bar
type Summary struct {
	Price          PriceSummary   `json:"price"`
	MovingAverages MovingAverages `json:"moving_averages"`
	Oscillators    Oscillators    `json:"oscillators"`
	Bollinger      BollingerBands `json:"bollinger"`
	Volatility     Volatility     `json:"volatility"`
}

type PriceSummary struct {
	Current       float64 `json:"current"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

type MovingAverages struct {
	SMA20  float64  `json:"sma_20"`
	SMA50  float64  `json:"sma_50"`
	SMA200 *float64 `json:"sma_200"`
	EMA12  float64  `json:"ema_12"`
	EMA26  float64  `json:"ema_26"`
	Trend  string   `json:"trend"`
}

type Oscillators struct {
	RSI           float64 `json:"rsi"`
	RSISignal     string  `json:"rsi_signal"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
}

type Volatility struct {
	Value float64 `json:"value"`
	Level string  `json:"level"`
}

// Summary computes every indicator at the latest bar. It needs MinSummaryCandles candles.
func (ta *TechnicalAnalysis) Summary() (Summary, error) {
	if err := ta.require(MinSummaryCandles, "summary"); err != nil {
		return Summary{}, err
	}

	var s Summary
	n := len(ta.candles)
	current := ta.candles[n-1].Close
	previous := ta.candles[n-2].Close
	s.Price = PriceSummary{
		Current: current,
		Change:  round(current-previous, 8),
	}
	if previous != 0 {
		s.Price.ChangePercent = round((current-previous)/previous*100, 2)
	}

	sma20, err := ta.SMA(20)
	if err != nil {
		return Summary{}, err
	}
	sma50, err := ta.SMA(50)
	if err != nil {
		return Summary{}, err
	}
	ema12, _ := ta.EMA(12)
	ema26, _ := ta.EMA(26)

	s.MovingAverages = MovingAverages{
		SMA20: round(last(sma20), 8),
		SMA50: round(last(sma50), 8),
		EMA12: round(last(ema12), 8),
		EMA26: round(last(ema26), 8),
		Trend: trendOf(current, last(sma20), last(sma50)),
	}
	if sma200, err := ta.SMA(200); err == nil {
		v := round(last(sma200), 8)
		s.MovingAverages.SMA200 = &v
	}

	rsi, err := ta.RSI(14)
	if err != nil {
		return Summary{}, err
	}
	macd, err := ta.MACD(12, 26, 9)
	if err != nil {
		return Summary{}, err
	}
	s.Oscillators = Oscillators{
		RSI:           round(last(rsi), 2),
		RSISignal:     RSISignal(last(rsi)),
		MACD:          round(last(macd.MACD), 8),
		MACDSignal:    round(last(macd.Signal), 8),
		MACDHistogram: round(last(macd.Histogram), 8),
	}

	bands, err := ta.Bollinger(20, 2)
	if err != nil {
		return Summary{}, err
	}
	s.Bollinger = bands.Current

	vol, err := ta.Volatility(14)
	if err != nil {
		return Summary{}, fmt.Errorf("volatility: %w", err)
	}
	s.Volatility = Volatility{Value: round(vol, 2), Level: volatilityLevel(vol)}
	return s, nil
}

func trendOf(price, sma20, sma50 float64) string {
	switch {
	case price > sma20 && sma20 > sma50:
		return TrendBullish
	case price < sma20 && sma20 < sma50:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// RSISignal classifies an RSI reading against the 70/30 bands
func RSISignal(rsi float64) string {
	switch {
	case rsi > 70:
		return "overbought"
	case rsi < 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func volatilityLevel(vol float64) string {
	switch {
	case vol > 50:
		return "high"
	case vol > 25:
		return "medium"
	default:
		return "low"
	}
}
