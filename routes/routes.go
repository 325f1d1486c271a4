package routes

import (
	"github.com/gin-gonic/gin"

	"tradingroad_backend/controllers"
	"tradingroad_backend/middleware"
)

// Controllers groups the handlers mounted by SetupRoutes
type Controllers struct {
	Market          *controllers.MarketController
	Exchange        *controllers.ExchangeController
	Indicator       *controllers.IndicatorController
	Realtime        *controllers.RealtimeController
	Auth            *controllers.AuthController
	ExchangeAccount *controllers.ExchangeAccountController

	Issuer       *middleware.TokenIssuer
	LoginLimiter *middleware.RateLimiter
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, c Controllers) {
	api := router.Group("/api/v1")
	{
		// Candle routes
		api.GET("/klines", c.Market.GetKlines)
		api.GET("/klines/export", c.Market.ExportKlines)
		api.GET("/klines/archive", c.Market.GetArchivedKlines)

		// Exchange routes
		exchanges := api.Group("/exchanges")
		{
			exchanges.GET("", c.Exchange.GetExchanges)
			exchanges.GET("/:id/pairs", c.Exchange.GetPairs)
			exchanges.GET("/:id/info", c.Exchange.GetExchangeInfo)
		}

		// Indicator routes
		indicators := api.Group("/indicators")
		{
			indicators.GET("/all", c.Indicator.GetAll)
			indicators.GET("/sma", c.Indicator.GetSMA)
			indicators.GET("/rsi", c.Indicator.GetRSI)
			indicators.GET("/macd", c.Indicator.GetMACD)
			indicators.GET("/bollinger", c.Indicator.GetBollinger)
		}

		api.POST("/auth/token", middleware.LoginRateLimitMiddleware(c.LoginLimiter), c.Auth.IssueToken)

		// Admin routes
		admin := api.Group("")
		admin.Use(middleware.JWTAuthMiddleware(c.Issuer), middleware.AdminRoleMiddleware())
		{
			broadcaster := admin.Group("/realtime/broadcaster")
			{
				broadcaster.GET("/status", c.Realtime.GetBroadcasterStatus)
				broadcaster.POST("/start", c.Realtime.StartBroadcaster)
				broadcaster.POST("/stop", c.Realtime.StopBroadcaster)
			}

			accounts := admin.Group("/exchange-accounts")
			{
				accounts.GET("", c.ExchangeAccount.GetAccounts)
				accounts.POST("", c.ExchangeAccount.SaveAccount)
				accounts.DELETE("/:id", c.ExchangeAccount.DeleteAccount)
			}
		}
	}

	ws := router.Group("/ws")
	{
		ws.GET("/stats", c.Realtime.GetStats)
		ws.GET("/klines/*symbol", c.Realtime.StreamKlines)
	}
}
