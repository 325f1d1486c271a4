package controllers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/services/analysis"
	"tradingroad_backend/services/marketdata"
)

const indicatorLimit = 200

// IndicatorController computes technical indicators over fetched candles
type IndicatorController struct {
	service *marketdata.Service
	logger  logrus.FieldLogger
}

// NewIndicatorController creates an indicator controller
func NewIndicatorController(service *marketdata.Service, logger logrus.FieldLogger) *IndicatorController {
	return &IndicatorController{service: service, logger: logger}
}

// load binds the query and fetches the candles to analyse
func (ic *IndicatorController) load(c *gin.Context) (marketdata.FetchResult, *analysis.TechnicalAnalysis, bool) {
	var q candleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return marketdata.FetchResult{}, nil, false
	}
	res := ic.service.FetchCandles(c.Request.Context(), q.request(indicatorLimit))
	return res, analysis.NewTechnicalAnalysis(res.Candles), true
}

// fail maps an indicator error to a response
func (ic *IndicatorController) fail(c *gin.Context, res marketdata.FetchResult, err error) {
	if errors.Is(err, analysis.ErrInsufficientData) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Insufficient data for " + res.Symbol + " on " + res.Exchange + " with interval " + res.Timeframe,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func header(res marketdata.FetchResult) gin.H {
	return gin.H{
		"symbol":   res.Symbol,
		"interval": res.Timeframe,
		"exchange": res.Exchange,
		"source":   res.Source,
	}
}

// GetAll returns the combined indicator summary
// GET /api/v1/indicators/all
func (ic *IndicatorController) GetAll(c *gin.Context) {
	res, ta, ok := ic.load(c)
	if !ok {
		return
	}
	summary, err := ta.Summary()
	if err != nil {
		ic.fail(c, res, err)
		return
	}

	out := header(res)
	out["price"] = summary.Price
	out["moving_averages"] = summary.MovingAverages
	out["oscillators"] = summary.Oscillators
	out["bollinger"] = summary.Bollinger
	out["volatility"] = summary.Volatility
	c.JSON(http.StatusOK, out)
}

// parsePeriods reads a comma separated or repeated "periods" parameter
func parsePeriods(values []string, fallback []int) ([]int, error) {
	var periods []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			p, err := strconv.Atoi(part)
			if err != nil || p < 1 {
				return nil, errors.New("invalid period " + strconv.Quote(part))
			}
			periods = append(periods, p)
		}
	}
	if len(periods) == 0 {
		periods = fallback
	}
	sort.Ints(periods)
	return periods, nil
}

// GetSMA returns simple moving averages for each requested period
// GET /api/v1/indicators/sma?periods=20,50,200
func (ic *IndicatorController) GetSMA(c *gin.Context) {
	periods, err := parsePeriods(c.QueryArray("periods"), []int{20, 50, 200})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, ta, ok := ic.load(c)
	if !ok {
		return
	}

	data := make([]gin.H, 0, len(periods))
	for _, period := range periods {
		series, err := ta.SMA(period)
		if err != nil {
			// periods longer than the history are skipped
			continue
		}
		entry := gin.H{"period": period, "series": series, "lastValue": nil}
		if len(series) > 0 {
			entry["lastValue"] = series[len(series)-1].Value
		}
		data = append(data, entry)
	}
	if len(data) == 0 {
		ic.fail(c, res, analysis.ErrInsufficientData)
		return
	}

	out := header(res)
	out["data"] = data
	c.JSON(http.StatusOK, out)
}

// GetRSI returns the relative strength index
// GET /api/v1/indicators/rsi?period=14
func (ic *IndicatorController) GetRSI(c *gin.Context) {
	period, err := strconv.Atoi(c.DefaultQuery("period", "14"))
	if err != nil || period < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be an integer >= 2"})
		return
	}
	res, ta, ok := ic.load(c)
	if !ok {
		return
	}
	series, err := ta.RSI(period)
	if err != nil {
		ic.fail(c, res, err)
		return
	}

	current := series[len(series)-1].Value
	out := header(res)
	out["period"] = period
	out["currentValue"] = current
	out["signal"] = analysis.RSISignal(current)
	out["data"] = series
	c.JSON(http.StatusOK, out)
}

// GetMACD returns the MACD, signal and histogram series
// GET /api/v1/indicators/macd?fast=12&slow=26&signal=9
func (ic *IndicatorController) GetMACD(c *gin.Context) {
	fast, err1 := strconv.Atoi(c.DefaultQuery("fast", "12"))
	slow, err2 := strconv.Atoi(c.DefaultQuery("slow", "26"))
	signal, err3 := strconv.Atoi(c.DefaultQuery("signal", "9"))
	if err := errors.Join(err1, err2, err3); err != nil || fast < 1 || signal < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fast, slow and signal must be positive integers"})
		return
	}
	res, ta, ok := ic.load(c)
	if !ok {
		return
	}
	macd, err := ta.MACD(fast, slow, signal)
	if err != nil {
		ic.fail(c, res, err)
		return
	}

	out := header(res)
	out["fast"] = fast
	out["slow"] = slow
	out["signal_period"] = signal
	out["data"] = macd
	c.JSON(http.StatusOK, out)
}

// GetBollinger returns Bollinger bands
// GET /api/v1/indicators/bollinger?period=20&std_dev=2
func (ic *IndicatorController) GetBollinger(c *gin.Context) {
	period, err := strconv.Atoi(c.DefaultQuery("period", "20"))
	if err != nil || period < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be an integer >= 2"})
		return
	}
	stdDev, err := strconv.ParseFloat(c.DefaultQuery("std_dev", "2"), 64)
	if err != nil || stdDev < 0.5 || stdDev > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "std_dev must be between 0.5 and 3"})
		return
	}
	res, ta, ok := ic.load(c)
	if !ok {
		return
	}
	bands, err := ta.Bollinger(period, stdDev)
	if err != nil {
		ic.fail(c, res, err)
		return
	}

	out := header(res)
	out["period"] = period
	out["std_dev"] = stdDev
	out["data"] = bands
	c.JSON(http.StatusOK, out)
}
