package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradingroad_backend/services/marketdata"
)

// ExchangeController serves exchange metadata
type ExchangeController struct {
	service *marketdata.Service
}

// NewExchangeController creates an exchange controller
func NewExchangeController(service *marketdata.Service) *ExchangeController {
	return &ExchangeController{service: service}
}

// GetExchanges lists the supported exchanges, popular ones first
// GET /api/v1/exchanges
func (ec *ExchangeController) GetExchanges(c *gin.Context) {
	exchanges := ec.service.AvailableExchanges()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(exchanges),
		"exchanges": exchanges,
	})
}

// GetPairs lists the spot pairs of an exchange grouped by base asset
// GET /api/v1/exchanges/:id/pairs
func (ec *ExchangeController) GetPairs(c *gin.Context) {
	id := c.Param("id")
	pairs := ec.service.AvailablePairs(c.Request.Context(), id)

	categorized := make(map[string][]string)
	for _, pair := range pairs {
		base := marketdata.BaseAsset(pair)
		if base == "" {
			base = "OTHER"
		}
		categorized[base] = append(categorized[base], pair)
	}

	c.JSON(http.StatusOK, gin.H{
		"exchange":    id,
		"count":       len(pairs),
		"pairs":       pairs,
		"categorized": categorized,
	})
}

// GetExchangeInfo returns the name and capabilities of an exchange
// GET /api/v1/exchanges/:id/info
func (ec *ExchangeController) GetExchangeInfo(c *gin.Context) {
	id := strings.ToLower(c.Param("id"))
	if _, ok := marketdata.LookupExchange(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Exchange " + id + " not found"})
		return
	}
	c.JSON(http.StatusOK, ec.service.ExchangeInfo(id))
}
