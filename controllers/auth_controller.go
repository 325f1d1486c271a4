package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/middleware"
	"tradingroad_backend/models"
)

// AuthController issues access tokens to the configured admin
type AuthController struct {
	users   *models.AdminUserRepository
	issuer  *middleware.TokenIssuer
	limiter *middleware.RateLimiter
	logger  logrus.FieldLogger
}

// NewAuthController creates an auth controller
func NewAuthController(users *models.AdminUserRepository, issuer *middleware.TokenIssuer, limiter *middleware.RateLimiter, logger logrus.FieldLogger) *AuthController {
	return &AuthController{users: users, issuer: issuer, limiter: limiter, logger: logger}
}

type tokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IssueToken exchanges admin credentials for a bearer token
// POST /api/v1/auth/token
func (ac *AuthController) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ip := c.ClientIP()
	admin, err := ac.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, models.ErrNotFound) {
		ac.limiter.RecordAttempt(ip, false)
		ac.logger.WithFields(logrus.Fields{"username": req.Username, "ip": ip}).Warn("failed login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}
	if err != nil {
		ac.logger.WithError(err).Error("login lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}
	ac.limiter.RecordAttempt(ip, true)

	token, expires, err := ac.issuer.IssueToken(admin.Username, admin.Role)
	if err != nil {
		ac.logger.WithError(err).Error("token signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expires.UTC(),
		"expires_in":   int(ac.issuer.TTL().Seconds()),
	})
}
