package internal

import (
	"saas-portal/config"
	"saas-portal/internal/infra/mail"
	"saas-portal/internal/infra/storage"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/authtoken"
	"saas-portal/internal/service/passwordreset"
	"saas-portal/internal/service/payments"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is built once in main and shared by every handler.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Tokens   *authtoken.Issuer
	Resets   *passwordreset.Manager
	Payments *payments.StateMachine
	Mailer   mail.Sender
	Stripe   stripe.API
	Webhooks *stripe.Verifier
	Storage  storage.Uploader // nil when S3 is not configured
}
