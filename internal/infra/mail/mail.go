// Package mail delivers account emails: verification and password reset.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const DefaultLocale = "en"

type Sender interface {
	SendVerification(ctx context.Context, to, link string) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

// ResetLink builds the frontend page a reset token is redeemed on.
func ResetLink(baseURL, locale, token string) string {
	if locale == "" {
		locale = DefaultLocale
	}
	return fmt.Sprintf("%s/%s/auth/reset-password?token=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(locale), url.QueryEscape(token))
}

func VerifyLink(baseURL, token string) string {
	return fmt.Sprintf("%s/verify?token=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(token))
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTP sends mail through a relay with gomail.
type SMTP struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

func (s *SMTP) SendVerification(ctx context.Context, to, link string) error {
	return s.send(ctx, to, "Verify your account",
		fmt.Sprintf("Click <a href='%v'>here</a> to verify your account.<br><br>This link expires in 24 hours.", link))
}

func (s *SMTP) SendPasswordReset(ctx context.Context, to, link string) error {
	return s.send(ctx, to, "Reset your password",
		fmt.Sprintf("Click <a href='%v'>here</a> to choose a new password.<br><br>This link expires in 1 hour. If you did not ask for it, ignore this email.", link))
}

func (s *SMTP) send(ctx context.Context, to, subject, html string) error {
	if to == s.cfg.From {
		return fmt.Errorf("refusing to send mail to the sender address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send mail, %w", err)
	}
	return nil
}

// Log writes links to the logger instead of sending them. Used when no
// SMTP relay is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) SendVerification(_ context.Context, to, link string) error {
	l.log.Info("Verification mail not sent, SMTP disabled", zap.String("to", to), zap.String("link", link))
	return nil
}

func (l *Log) SendPasswordReset(_ context.Context, to, link string) error {
	l.log.Info("Password reset mail not sent, SMTP disabled", zap.String("to", to), zap.String("link", link))
	return nil
}
