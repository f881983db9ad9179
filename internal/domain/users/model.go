package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ProviderCredentials = "credentials"
	ProviderGoogle      = "google"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account. Email is unique per sign-in provider, so one address
// may own a credentials account and, separately, one account per OAuth provider.
type User struct {
	ID             uint    `gorm:"primaryKey"`
	UUID           string  `gorm:"type:varchar(36);not null;uniqueIndex:idx_users_uuid"`
	Email          string  `gorm:"not null;uniqueIndex:idx_users_email_provider,priority:1"`
	SigninProvider string  `gorm:"type:varchar(20);not null;default:'credentials';uniqueIndex:idx_users_email_provider,priority:2"`
	Password       *string `gorm:""`
	GoogleSub      *string `gorm:"uniqueIndex:idx_users_google_sub"`
	Name           string
	AvatarURL      *string `gorm:"column:avatar_url"`
	Role           string  `gorm:"type:varchar(20);not null;default:'user'"`
	IsVerified     bool

	ResetToken          *string    `gorm:"column:reset_token;uniqueIndex:idx_users_reset_token"`
	ResetTokenExpiresAt *time.Time `gorm:"column:reset_token_expires_at;index"`

	IsDeleted bool `gorm:"not null;default:false;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	if u.SigninProvider == "" {
		u.SigninProvider = ProviderCredentials
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}

// Active limits a query to accounts that were not soft-deleted.
func Active(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

// Credentials limits a query to active password-based accounts.
func Credentials(db *gorm.DB) *gorm.DB {
	return Active(db).Where("signin_provider = ?", ProviderCredentials)
}

// NormalizeEmail is applied to every address before it is stored or looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
