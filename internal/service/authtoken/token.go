// Package authtoken signs and parses the bearer tokens the API hands out
// after login.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"saas-portal/internal/domain/users"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 24 * time.Hour

var ErrInvalid = errors.New("invalid or expired token")

type Claims struct {
	UserID uint
	UUID   string
	Email  string
	Role   string
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
}

func (i *Issuer) Sign(u *users.User) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": u.ID,
		"uuid":    u.UUID,
		"email":   u.Email,
		"role":    u.Role,
		"exp":     i.now().Add(i.ttl).Unix(),
	})
	s, err := t.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (i *Issuer) Parse(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalid
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalid
	}

	var c Claims
	if v, ok := mc["user_id"].(float64); ok {
		c.UserID = uint(v)
	}
	c.UUID, _ = mc["uuid"].(string)
	c.Email, _ = mc["email"].(string)
	c.Role, _ = mc["role"].(string)
	if c.UUID == "" || c.UserID == 0 {
		return Claims{}, ErrInvalid
	}
	return c, nil
}
