package models

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// AdminUser is the operator account allowed to manage the service
type AdminUser struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:'admin'" json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetPassword hashes and sets the password for the admin user
func (u *AdminUser) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (u *AdminUser) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// SeedAdminUser creates or refreshes the configured admin from a bcrypt hash.
// An empty hash leaves the table untouched.
func SeedAdminUser(db *gorm.DB, username, passwordHash string) error {
	if username == "" || passwordHash == "" {
		return nil
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return errors.New("ADMIN_PASSWORD_HASH is not a bcrypt hash")
	}

	var admin AdminUser
	err := db.Where("username = ?", username).First(&admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		admin = AdminUser{Username: username, PasswordHash: passwordHash, Role: "admin", IsActive: true}
		return db.Create(&admin).Error
	case err != nil:
		return err
	}

	if admin.PasswordHash == passwordHash && admin.IsActive {
		return nil
	}
	return db.Model(&admin).Updates(map[string]any{"password_hash": passwordHash, "is_active": true}).Error
}

// AdminUserRepository loads admins for authentication
type AdminUserRepository struct {
	db *gorm.DB
}

// NewAdminUserRepository creates a repository
func NewAdminUserRepository(db *gorm.DB) *AdminUserRepository {
	return &AdminUserRepository{db: db}
}

// Authenticate returns the active admin matching the credentials
func (r *AdminUserRepository) Authenticate(ctx context.Context, username, password string) (*AdminUser, error) {
	var admin AdminUser
	err := r.db.WithContext(ctx).Where("username = ? AND is_active = ?", username, true).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !admin.CheckPassword(password) {
		return nil, ErrNotFound
	}

	now := time.Now()
	r.db.WithContext(ctx).Model(&admin).Update("last_login_at", now)
	admin.LastLoginAt = &now
	return &admin, nil
}
