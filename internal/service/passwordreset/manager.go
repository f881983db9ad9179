// Package passwordreset issues and redeems single-use, time-limited tokens
// proving control of a credentials account's email address.
//
// The manager never reports whether an address belongs to an account:
// issuing for an unknown address succeeds and returns a token nobody can
// redeem. Deciding whether to send mail is left to the caller.
package passwordreset

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"saas-portal/internal/domain/users"

	"gorm.io/gorm"
)

const (
	TokenBytes = 32
	TokenTTL   = time.Hour
)

type Reason string

const (
	ReasonNotFound Reason = "not-found"
	ReasonNoExpiry Reason = "no-expiry"
	ReasonExpired  Reason = "expired"
)

// Result is the outcome of a token lookup. Reason is empty when Valid.
type Result struct {
	Valid  bool
	Email  string
	Reason Reason
}

var ErrEmailRequired = errors.New("passwordreset: email is required")

type Manager struct {
	db     *gorm.DB
	now    func() time.Time
	random io.Reader
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

func New(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{db: db, now: time.Now, random: rand.Reader}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Issue stores a fresh token for the credentials account registered under
// email, replacing any earlier one, and returns it.
func (m *Manager) Issue(ctx context.Context, email string) (string, error) {
	email = users.NormalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}

	token, err := m.newToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := m.now().Add(TokenTTL)

	err = m.db.WithContext(ctx).
		Model(&users.User{}).
		Scopes(users.Credentials).
		Where("email = ?", email).
		Updates(map[string]any{
			"reset_token":            token,
			"reset_token_expires_at": expiresAt,
		}).Error
	if err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	return token, nil
}

// Validate looks a token up without consuming it.
func (m *Manager) Validate(ctx context.Context, token string) (Result, error) {
	return m.validate(m.db.WithContext(ctx), token)
}

func (m *Manager) validate(db *gorm.DB, token string) (Result, error) {
	if token == "" {
		return Result{Reason: ReasonNotFound}, nil
	}

	var u users.User
	err := db.Scopes(users.Credentials).Where("reset_token = ?", token).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup reset token: %w", err)
	}

	if u.ResetTokenExpiresAt == nil {
		return Result{Reason: ReasonNoExpiry}, nil
	}
	if !m.now().Before(*u.ResetTokenExpiresAt) {
		return Result{Reason: ReasonExpired}, nil
	}

	return Result{Valid: true, Email: u.Email}, nil
}

// Consume clears the token of the credentials account registered under
// email. Call it only once the new password is stored.
func (m *Manager) Consume(ctx context.Context, email string) error {
	return consume(m.db.WithContext(ctx), email)
}

func consume(db *gorm.DB, email string) error {
	err := db.Model(&users.User{}).
		Scopes(users.Credentials).
		Where("email = ?", users.NormalizeEmail(email)).
		Updates(map[string]any{
			"reset_token":            nil,
			"reset_token_expires_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	return nil
}

// Reset redeems token: it stores passwordHash for the owning account and
// then consumes the token, both in one transaction. A token that was
// redeemed concurrently yields ReasonNotFound.
func (m *Manager) Reset(ctx context.Context, token, passwordHash string) (Result, error) {
	var res Result

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = m.validate(tx, token)
		if err != nil || !res.Valid {
			return err
		}

		r := tx.Model(&users.User{}).
			Scopes(users.Credentials).
			Where("reset_token = ?", token).
			Update("password", passwordHash)
		if r.Error != nil {
			return fmt.Errorf("store new password: %w", r.Error)
		}
		if r.RowsAffected == 0 {
			res = Result{Reason: ReasonNotFound}
			return nil
		}

		return consume(tx, res.Email)
	})
	if err != nil {
		return Result{}, err
	}

	return res, nil
}

// Sweep clears tokens that can no longer be redeemed and returns how many
// accounts were touched.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	r := m.db.WithContext(ctx).
		Model(&users.User{}).
		Where("reset_token_expires_at <= ? OR (reset_token IS NOT NULL AND reset_token_expires_at IS NULL)", m.now()).
		Updates(map[string]any{
			"reset_token":            nil,
			"reset_token_expires_at": nil,
		})
	if r.Error != nil {
		return 0, fmt.Errorf("sweep reset tokens: %w", r.Error)
	}
	return r.RowsAffected, nil
}

// ValidTokenFormat reports whether token could have been produced by Issue.
func ValidTokenFormat(token string) bool {
	if len(token) != hex.EncodedLen(TokenBytes) {
		return false
	}
	for _, c := range token {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

func (m *Manager) newToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
