package analysis

import (
	"errors"
	"math"
	"testing"

	"tradingroad_backend/services/marketdata"
)

func linearCandles(n int, start, step float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	for i := range candles {
		price := start + step*float64(i)
		candles[i] = marketdata.Candle{
			Timestamp: int64(i) * 60_000,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    100,
		}
	}
	return candles
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSMA(t *testing.T) {
	ta := NewTechnicalAnalysis(linearCandles(10, 100, 1))
	points, err := ta.SMA(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 6 {
		t.Fatalf("len = %d, want 6", len(points))
	}
	// mean of 100..104
	if !almostEqual(points[0].Value, 102) {
		t.Errorf("first SMA = %f, want 102", points[0].Value)
	}
	if !almostEqual(points[5].Value, 107) {
		t.Errorf("last SMA = %f, want 107", points[5].Value)
	}
	if points[0].Time != 4*60_000 {
		t.Errorf("first point time = %d", points[0].Time)
	}
}

func TestInsufficientData(t *testing.T) {
	ta := NewTechnicalAnalysis(linearCandles(10, 100, 1))
	if _, err := ta.SMA(20); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("SMA20 err = %v", err)
	}
	if _, err := ta.Summary(); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Summary err = %v", err)
	}
	if _, err := ta.MACD(12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("MACD err = %v", err)
	}
}

func TestRSIBounds(t *testing.T) {
	up := NewTechnicalAnalysis(linearCandles(40, 100, 1))
	points, err := up.RSI(14)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		if p.Value < 0 || p.Value > 100 {
			t.Fatalf("RSI out of range: %f", p.Value)
		}
	}
	if last(points) < 99 {
		t.Errorf("RSI of a steady rise = %f, want ~100", last(points))
	}

	down := NewTechnicalAnalysis(linearCandles(40, 200, -1))
	points, _ = down.RSI(14)
	if last(points) > 1 {
		t.Errorf("RSI of a steady fall = %f, want ~0", last(points))
	}
}

func TestBollingerWidth(t *testing.T) {
	ta := NewTechnicalAnalysis(linearCandles(30, 100, 1))
	res, err := ta.Bollinger(20, 2)
	if err != nil {
		t.Fatal(err)
	}
	cur := res.Current
	if !(cur.Upper > cur.Middle && cur.Middle > cur.Lower) {
		t.Errorf("bands out of order: %+v", cur)
	}
	want := round((cur.Upper-cur.Lower)/cur.Middle*100, 2)
	if cur.Width != want {
		t.Errorf("width = %f, want %f", cur.Width, want)
	}
}

func TestSummary(t *testing.T) {
	ta := NewTechnicalAnalysis(linearCandles(60, 100, 1))
	s, err := ta.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if s.Price.Current != 159 {
		t.Errorf("current = %f", s.Price.Current)
	}
	if s.MovingAverages.Trend != TrendBullish {
		t.Errorf("trend = %q, want bullish", s.MovingAverages.Trend)
	}
	if s.MovingAverages.SMA200 != nil {
		t.Error("SMA200 reported with 60 candles")
	}
	if s.Oscillators.RSISignal != "overbought" {
		t.Errorf("rsi signal = %q", s.Oscillators.RSISignal)
	}
	if s.Oscillators.MACD <= 0 {
		t.Errorf("MACD of a rising series = %f, want positive", s.Oscillators.MACD)
	}
}

func TestClassifiers(t *testing.T) {
	if trendOf(90, 95, 100) != TrendBearish || trendOf(100, 90, 95) != TrendNeutral {
		t.Error("trendOf misclassified")
	}
	if RSISignal(25) != "oversold" || RSISignal(50) != "neutral" {
		t.Error("RSISignal misclassified")
	}
	if volatilityLevel(60) != "high" || volatilityLevel(30) != "medium" || volatilityLevel(10) != "low" {
		t.Error("volatilityLevel misclassified")
	}
}
