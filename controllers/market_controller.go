package controllers

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/services/archive"
	"tradingroad_backend/services/marketdata"
)

// candleQuery is the query string shared by kline and indicator endpoints
type candleQuery struct {
	Symbol   string `form:"symbol" binding:"required"`
	Interval string `form:"interval"`
	Limit    *int   `form:"limit" binding:"omitempty,min=1,max=1000"`
	Exchange string `form:"exchange"`
	Since    *int64 `form:"since" binding:"omitempty,min=0"`
}

func (q candleQuery) request(defaultLimit int) marketdata.FetchRequest {
	interval := q.Interval
	if interval == "" {
		interval = marketdata.DefaultTimeframe
	}
	limit := defaultLimit
	if q.Limit != nil {
		limit = *q.Limit
	}
	return marketdata.FetchRequest{
		Exchange:  q.Exchange,
		Symbol:    strings.ToUpper(strings.TrimSpace(q.Symbol)),
		Timeframe: interval,
		Limit:     limit,
		Since:     q.Since,
	}
}

// MarketController serves candle data
type MarketController struct {
	service *marketdata.Service
	archive archive.Store
	logger  logrus.FieldLogger
}

// NewMarketController creates a market controller. archive may be nil.
func NewMarketController(service *marketdata.Service, store archive.Store, logger logrus.FieldLogger) *MarketController {
	return &MarketController{service: service, archive: store, logger: logger}
}

// GetKlines returns OHLCV candles for a pair
// GET /api/v1/klines
func (mc *MarketController) GetKlines(c *gin.Context) {
	var q candleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := mc.service.FetchCandles(c.Request.Context(), q.request(marketdata.DefaultLimit))
	c.JSON(http.StatusOK, gin.H{
		"symbol":     res.Symbol,
		"interval":   res.Timeframe,
		"exchange":   res.Exchange,
		"lastUpdate": time.Now().UTC().Format(time.RFC3339),
		"source":     res.Source,
		"data":       res.Candles,
	})
}

// ExportKlines returns candles as CSV or JSON records
// GET /api/v1/klines/export
func (mc *MarketController) ExportKlines(c *gin.Context) {
	var q candleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}

	res := mc.service.FetchCandles(c.Request.Context(), q.request(marketdata.DefaultLimit))
	if format == "json" {
		c.JSON(http.StatusOK, gin.H{
			"format":   "json",
			"symbol":   res.Symbol,
			"interval": res.Timeframe,
			"exchange": res.Exchange,
			"data":     res.Candles,
		})
		return
	}

	data, err := candlesCSV(res.Candles)
	if err != nil {
		mc.logger.WithError(err).Error("csv export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export candles"})
		return
	}
	filename := strings.ReplaceAll(res.Symbol, "/", "") + "_" + res.Timeframe + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// candlesCSV renders candles with a header row and RFC3339 timestamps
func candlesCSV(candles []marketdata.Candle) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"})

	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, k := range candles {
		w.Write([]string{
			k.Time().UTC().Format(time.RFC3339),
			format(k.Open), format(k.High), format(k.Low), format(k.Close), format(k.Volume),
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// GetArchivedKlines returns previously archived live candles
// GET /api/v1/klines/archive
func (mc *MarketController) GetArchivedKlines(c *gin.Context) {
	if mc.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Candle archive is disabled"})
		return
	}

	var q candleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := q.request(marketdata.DefaultLimit)
	exchange := req.Exchange
	if exchange == "" {
		exchange = mc.service.Registry().DefaultID()
	}
	timeframe := marketdata.TimeframeToCanonical(req.Timeframe)

	candles, err := mc.archive.LoadCandles(c.Request.Context(), strings.ToLower(exchange), req.Symbol, timeframe, req.Limit)
	if err != nil {
		mc.logger.WithError(err).Error("archive read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read archive"})
		return
	}
	if len(candles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No archived candles for " + req.Symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   req.Symbol,
		"interval": timeframe,
		"exchange": exchange,
		"count":    len(candles),
		"data":     candles,
	})
}
