package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExchangeAccount stores API credentials for one exchange
type ExchangeAccount struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ExchangeID string    `gorm:"uniqueIndex;not null" json:"exchange_id"`
	Label      string    `json:"label"`
	APIKey     string    `gorm:"not null" json:"-"`
	APISecret  string    `json:"-"`
	Password   string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MaskedKey shows the first and last characters of the API key
func (a ExchangeAccount) MaskedKey() string {
	if len(a.APIKey) <= 8 {
		return "****"
	}
	return a.APIKey[:4] + "****" + a.APIKey[len(a.APIKey)-4:]
}

// ExchangeAccountRepository persists exchange accounts
type ExchangeAccountRepository struct {
	db *gorm.DB
}

// NewExchangeAccountRepository creates a repository
func NewExchangeAccountRepository(db *gorm.DB) *ExchangeAccountRepository {
	return &ExchangeAccountRepository{db: db}
}

// List returns every account ordered by exchange id
func (r *ExchangeAccountRepository) List(ctx context.Context) ([]ExchangeAccount, error) {
	var accounts []ExchangeAccount
	err := r.db.WithContext(ctx).Order("exchange_id").Find(&accounts).Error
	return accounts, err
}

// ListActive returns the accounts whose credentials should be used
func (r *ExchangeAccountRepository) ListActive(ctx context.Context) ([]ExchangeAccount, error) {
	var accounts []ExchangeAccount
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("exchange_id").Find(&accounts).Error
	return accounts, err
}

// Upsert creates or replaces the account of account.ExchangeID
func (r *ExchangeAccountRepository) Upsert(ctx context.Context, account *ExchangeAccount) error {
	account.ExchangeID = strings.ToLower(strings.TrimSpace(account.ExchangeID))
	if account.ExchangeID == "" || account.APIKey == "" {
		return errors.New("exchange_id and api_key are required")
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "api_key", "api_secret", "password", "is_active", "updated_at"}),
	}).Create(account).Error
}

// DeleteByExchange removes the account of an exchange
func (r *ExchangeAccountRepository) DeleteByExchange(ctx context.Context, exchangeID string) error {
	res := r.db.WithContext(ctx).
		Where("exchange_id = ?", strings.ToLower(exchangeID)).
		Delete(&ExchangeAccount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Migrate runs database migrations for every model
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AdminUser{},
		&ExchangeAccount{},
	)
}
