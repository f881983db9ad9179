// Package testdeps assembles handler dependencies over an in-memory store
// with recording fakes for mail and Stripe.
package testdeps

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"saas-portal/config"
	"saas-portal/internal"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/authtoken"
	"saas-portal/internal/service/passwordreset"
	"saas-portal/internal/service/payments"
	"saas-portal/internal/testutil"

	"github.com/stretchr/testify/require"
)

const (
	JWTSecret     = "test-jwt-secret"
	WebhookSecret = "whsec_test"
)

type Mail struct {
	To   string
	Link string
	Kind string
}

// Mailer records every message instead of sending it. Delay holds each
// send back as a slow SMTP server would.
type Mailer struct {
	mu    sync.Mutex
	Sent  []Mail
	Err   error
	Delay time.Duration
}

func (m *Mailer) SendVerification(_ context.Context, to, link string) error {
	return m.record(Mail{To: to, Link: link, Kind: "verification"})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, link string) error {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.record(Mail{To: to, Link: link, Kind: "password_reset"})
}

func (m *Mailer) record(mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, mail)
	return nil
}

func (m *Mailer) Last() (Mail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return Mail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

func (m *Mailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// Await waits until n messages were recorded and returns the last one.
func (m *Mailer) Await(t *testing.T, n int) Mail {
	t.Helper()
	require.Eventually(t, func() bool { return m.Count() >= n }, 2*time.Second, 5*time.Millisecond)
	last, _ := m.Last()
	return last
}

// Stripe is a canned stripe.API.
type Stripe struct {
	mu       sync.Mutex
	Sessions []stripe.CheckoutParams
	Prices   []stripe.Price
	Err      error
}

func (s *Stripe) CreateCheckoutSession(_ context.Context, p stripe.CheckoutParams) (stripe.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return stripe.CheckoutSession{}, s.Err
	}
	s.Sessions = append(s.Sessions, p)
	id := "cs_test_" + p.OrderNo
	return stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (s *Stripe) ListActivePrices(context.Context, string) ([]stripe.Price, error) {
	return s.Prices, s.Err
}

// Storage keeps uploads in memory.
type Storage struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func (s *Storage) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Objects == nil {
		s.Objects = map[string][]byte{}
	}
	s.Objects[key] = b
	return "https://cdn.test/" + key, nil
}

type Fixture struct {
	*internal.Deps
	Mail    *Mailer
	Fake    *Stripe
	Uploads *Storage
}

func New(t *testing.T) *Fixture {
	t.Helper()

	db := testutil.NewDB(t)
	log := testutil.Logger()

	f := &Fixture{Mail: &Mailer{}, Fake: &Stripe{}, Uploads: &Storage{}}
	f.Deps = &internal.Deps{
		Config: &config.Config{
			AppEnv:              "test",
			AppURL:              "http://app.test",
			CORSOrigin:          "http://app.test",
			JWTSecret:           JWTSecret,
			StripeSecretKey:     "sk_test",
			StripeWebhookSecret: WebhookSecret,
			RateLimitRPS:        100,
			RateLimitBurst:      100,
		},
		DB:       db,
		Log:      log,
		Tokens:   authtoken.NewIssuer(JWTSecret),
		Resets:   passwordreset.New(db),
		Payments: payments.New(db, log),
		Mailer:   f.Mail,
		Stripe:   f.Fake,
		Webhooks: stripe.NewVerifier(WebhookSecret),
		Storage:  f.Uploads,
	}
	return f
}
