package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/services/realtime"
)

// RealtimeController exposes the kline WebSocket feed and broadcaster controls
type RealtimeController struct {
	registry    *realtime.Registry
	handler     *realtime.Handler
	broadcaster *realtime.Broadcaster
	// appCtx bounds broadcaster loops started over HTTP, request contexts end too early
	appCtx context.Context
	logger logrus.FieldLogger
}

// NewRealtimeController creates a realtime controller
func NewRealtimeController(appCtx context.Context, registry *realtime.Registry, handler *realtime.Handler, broadcaster *realtime.Broadcaster, logger logrus.FieldLogger) *RealtimeController {
	return &RealtimeController{
		registry:    registry,
		handler:     handler,
		broadcaster: broadcaster,
		appCtx:      appCtx,
		logger:      logger,
	}
}

// StreamKlines upgrades to a WebSocket subscribed to one symbol
// GET /ws/klines/*symbol
func (rc *RealtimeController) StreamKlines(c *gin.Context) {
	key := realtime.SubscriptionKey(c.Param("symbol"), c.Query("exchange"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	rc.handler.Serve(c.Writer, c.Request, key)
}

// GetStats returns connection counts per symbol
// GET /ws/stats
func (rc *RealtimeController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, rc.registry.Stats())
}

// GetBroadcasterStatus returns the broadcast loop state
// GET /api/v1/realtime/broadcaster/status
func (rc *RealtimeController) GetBroadcasterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, rc.broadcaster.Status())
}

// StartBroadcaster starts the broadcast loop
// POST /api/v1/realtime/broadcaster/start
func (rc *RealtimeController) StartBroadcaster(c *gin.Context) {
	err := rc.broadcaster.Start(rc.appCtx)
	if errors.Is(err, realtime.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": rc.broadcaster.Status()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rc.logger.WithField("user", c.GetString("user_id")).Info("broadcaster started over API")
	c.JSON(http.StatusOK, gin.H{"message": "Broadcaster started", "status": rc.broadcaster.Status()})
}

// StopBroadcaster stops the broadcast loop and waits for the current iteration
// POST /api/v1/realtime/broadcaster/stop
func (rc *RealtimeController) StopBroadcaster(c *gin.Context) {
	rc.broadcaster.Stop()
	rc.logger.WithField("user", c.GetString("user_id")).Info("broadcaster stopped over API")
	c.JSON(http.StatusOK, gin.H{"message": "Broadcaster stopped", "status": rc.broadcaster.Status()})
}
