package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/models"
	"tradingroad_backend/services/marketdata"
)

// ExchangeAccountController manages stored exchange credentials
type ExchangeAccountController struct {
	accounts *models.ExchangeAccountRepository
	registry *marketdata.Registry
	logger   logrus.FieldLogger
}

// NewExchangeAccountController creates an exchange account controller
func NewExchangeAccountController(accounts *models.ExchangeAccountRepository, registry *marketdata.Registry, logger logrus.FieldLogger) *ExchangeAccountController {
	return &ExchangeAccountController{accounts: accounts, registry: registry, logger: logger}
}

type accountResponse struct {
	ExchangeID string    `json:"exchange_id"`
	Label      string    `json:"label"`
	APIKey     string    `json:"api_key"`
	HasSecret  bool      `json:"has_secret"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toAccountResponse(a models.ExchangeAccount) accountResponse {
	return accountResponse{
		ExchangeID: a.ExchangeID,
		Label:      a.Label,
		APIKey:     a.MaskedKey(),
		HasSecret:  a.APISecret != "",
		IsActive:   a.IsActive,
		UpdatedAt:  a.UpdatedAt,
	}
}

type accountRequest struct {
	ExchangeID string `json:"exchange_id" binding:"required"`
	Label      string `json:"label"`
	APIKey     string `json:"api_key" binding:"required"`
	APISecret  string `json:"api_secret"`
	Password   string `json:"password"`
	IsActive   *bool  `json:"is_active"`
}

// GetAccounts lists stored accounts with masked keys
// GET /api/v1/exchange-accounts
func (ac *ExchangeAccountController) GetAccounts(c *gin.Context) {
	accounts, err := ac.accounts.List(c.Request.Context())
	if err != nil {
		ac.logger.WithError(err).Error("list exchange accounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch exchange accounts"})
		return
	}

	data := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		data = append(data, toAccountResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// SaveAccount creates or replaces the credentials of an exchange
// POST /api/v1/exchange-accounts
func (ac *ExchangeAccountController) SaveAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := strings.ToLower(strings.TrimSpace(req.ExchangeID))
	if _, ok := marketdata.LookupExchange(id); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown exchange " + req.ExchangeID})
		return
	}

	account := models.ExchangeAccount{
		ExchangeID: id,
		Label:      req.Label,
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Password:   req.Password,
		IsActive:   req.IsActive == nil || *req.IsActive,
	}
	if err := ac.accounts.Upsert(c.Request.Context(), &account); err != nil {
		ac.logger.WithError(err).Error("save exchange account failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save exchange account"})
		return
	}

	creds := marketdata.Credentials{}
	if account.IsActive {
		creds = marketdata.Credentials{APIKey: account.APIKey, Secret: account.APISecret, Password: account.Password}
	}
	ac.registry.SetCredentials(id, creds)
	ac.logger.WithFields(logrus.Fields{"exchange": id, "active": account.IsActive}).Info("exchange credentials updated")

	c.JSON(http.StatusOK, gin.H{"data": toAccountResponse(account)})
}

// DeleteAccount removes the stored credentials of an exchange
// DELETE /api/v1/exchange-accounts/:id
func (ac *ExchangeAccountController) DeleteAccount(c *gin.Context) {
	id := strings.ToLower(c.Param("id"))
	err := ac.accounts.DeleteByExchange(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Exchange account not found"})
		return
	}
	if err != nil {
		ac.logger.WithError(err).Error("delete exchange account failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete exchange account"})
		return
	}

	ac.registry.SetCredentials(id, marketdata.Credentials{})
	c.JSON(http.StatusOK, gin.H{"message": "Exchange account deleted"})
}
