// Package analysis computes technical indicators over candle sequences using techan.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"

	"tradingroad_backend/services/marketdata"
)

// ErrInsufficientData is returned when there are fewer candles than an indicator needs
var ErrInsufficientData = errors.New("insufficient data")

// MinSummaryCandles is the minimum history for Summary
const MinSummaryCandles = 50

// Point is one indicator value at a bar time
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// TechnicalAnalysis wraps an ascending candle sequence as a techan time series
type TechnicalAnalysis struct {
	candles []marketdata.Candle
	series  *techan.TimeSeries
	closes  techan.Indicator
}

// NewTechnicalAnalysis builds the series. Candles must be ascending by timestamp.
func NewTechnicalAnalysis(candles []marketdata.Candle) *TechnicalAnalysis {
	series := techan.NewTimeSeries()
	kept := make([]marketdata.Candle, 0, len(candles))

	for i, c := range candles {
		start := c.Time()
		end := start.Add(time.Minute)
		if i+1 < len(candles) && candles[i+1].Timestamp > c.Timestamp {
			end = candles[i+1].Time()
		}

		candle := techan.NewCandle(techan.TimePeriod{Start: start, End: end})
		candle.OpenPrice = big.NewDecimal(c.Open)
		candle.ClosePrice = big.NewDecimal(c.Close)
		candle.MaxPrice = big.NewDecimal(c.High)
		candle.MinPrice = big.NewDecimal(c.Low)
		candle.Volume = big.NewDecimal(c.Volume)

		if series.AddCandle(candle) {
			kept = append(kept, c)
		}
	}

	return &TechnicalAnalysis{
		candles: kept,
		series:  series,
		closes:  techan.NewClosePriceIndicator(series),
	}
}

// Len returns the number of candles in the series
func (ta *TechnicalAnalysis) Len() int {
	return len(ta.candles)
}

func (ta *TechnicalAnalysis) require(n int, name string) error {
	if n < 1 {
		return fmt.Errorf("%s: period must be positive", name)
	}
	if len(ta.candles) < n {
		return fmt.Errorf("%s needs %d candles, have %d: %w", name, n, len(ta.candles), ErrInsufficientData)
	}
	return nil
}

// points evaluates ind from index first onwards
func (ta *TechnicalAnalysis) points(ind techan.Indicator, first int) []Point {
	out := make([]Point, 0, len(ta.candles)-first)
	for i := first; i < len(ta.candles); i++ {
		v, ok := calculate(ind, i)
		if !ok {
			continue
		}
		out = append(out, Point{Time: ta.candles[i].Timestamp, Value: v})
	}
	return out
}

// calculate evaluates one index, rejecting non-finite results
func calculate(ind techan.Indicator, index int) (v float64, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = 0, false
		}
	}()
	v = ind.Calculate(index).Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SMA returns the simple moving average over period bars
func (ta *TechnicalAnalysis) SMA(period int) ([]Point, error) {
	if err := ta.require(period, fmt.Sprintf("SMA%d", period)); err != nil {
		return nil, err
	}
	return ta.points(techan.NewSimpleMovingAverage(ta.closes, period), period-1), nil
}

// EMA returns the exponential moving average over period bars
func (ta *TechnicalAnalysis) EMA(period int) ([]Point, error) {
	if err := ta.require(period, fmt.Sprintf("EMA%d", period)); err != nil {
		return nil, err
	}
	return ta.points(techan.NewEMAIndicator(ta.closes, period), period-1), nil
}

// RSI returns the relative strength index. A window without losses reads 100.
func (ta *TechnicalAnalysis) RSI(period int) ([]Point, error) {
	if err := ta.require(period+1, fmt.Sprintf("RSI%d", period)); err != nil {
		return nil, err
	}
	rsi := techan.NewRelativeStrengthIndexIndicator(ta.closes, period)

	out := make([]Point, 0, len(ta.candles)-period)
	for i := period; i < len(ta.candles); i++ {
		v, ok := calculate(rsi, i)
		if !ok {
			v = 100
		}
		out = append(out, Point{Time: ta.candles[i].Timestamp, Value: clamp(v, 0, 100)})
	}
	return out, nil
}

// MACDResult holds the MACD line, its signal line and the histogram
type MACDResult struct {
	MACD      []Point `json:"macd"`
	Signal    []Point `json:"signal"`
	Histogram []Point `json:"histogram"`
}

// MACD returns the moving average convergence divergence
func (ta *TechnicalAnalysis) MACD(fast, slow, signal int) (MACDResult, error) {
	if fast >= slow {
		return MACDResult{}, fmt.Errorf("MACD fast period %d must be below slow period %d", fast, slow)
	}
	if err := ta.require(slow+signal-1, "MACD"); err != nil {
		return MACDResult{}, err
	}

	macd := techan.NewMACDIndicator(ta.closes, fast, slow)
	signalLine := techan.NewEMAIndicator(macd, signal)
	histogram := techan.NewMACDHistogramIndicator(macd, signal)

	first := slow + signal - 2
	return MACDResult{
		MACD:      ta.points(macd, first),
		Signal:    ta.points(signalLine, first),
		Histogram: ta.points(histogram, first),
	}, nil
}

// BollingerBands is the latest band reading
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"`
}

// BollingerResult holds the band series and the latest reading
type BollingerResult struct {
	Upper   []Point        `json:"upper"`
	Middle  []Point        `json:"middle"`
	Lower   []Point        `json:"lower"`
	Current BollingerBands `json:"current"`
}

// Bollinger returns bands at k standard deviations around the period SMA
func (ta *TechnicalAnalysis) Bollinger(period int, k float64) (BollingerResult, error) {
	if err := ta.require(period, "Bollinger"); err != nil {
		return BollingerResult{}, err
	}
	if k <= 0 {
		return BollingerResult{}, fmt.Errorf("Bollinger: std dev multiplier must be positive")
	}

	first := period - 1
	res := BollingerResult{
		Upper:  ta.points(techan.NewBollingerUpperBandIndicator(ta.closes, period, k), first),
		Middle: ta.points(techan.NewSimpleMovingAverage(ta.closes, period), first),
		Lower:  ta.points(techan.NewBollingerLowerBandIndicator(ta.closes, period, k), first),
	}

	if n := len(res.Middle); n > 0 && len(res.Upper) > 0 && len(res.Lower) > 0 {
		cur := BollingerBands{
			Upper:  res.Upper[len(res.Upper)-1].Value,
			Middle: res.Middle[n-1].Value,
			Lower:  res.Lower[len(res.Lower)-1].Value,
		}
		if cur.Middle != 0 {
			cur.Width = round((cur.Upper-cur.Lower)/cur.Middle*100, 2)
		}
		res.Current = cur
	}
	return res, nil
}

// Volatility returns the annualized standard deviation of log returns over the last
// window bars, in percent
func (ta *TechnicalAnalysis) Volatility(window int) (float64, error) {
	if err := ta.require(window+1, "volatility"); err != nil {
		return 0, err
	}

	closes := ta.candles[len(ta.candles)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1].Close, closes[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0, nil
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(252) * 100, nil
}

func last(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Value
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
