// Package payments drives orders through the payment provider's lifecycle:
//
//	created ─► pending ─► paid | expired | failed
//
// paid, expired and failed are terminal. Every transition is a conditional
// update that only matches orders still in created or pending, so a
// redelivered or out-of-order event leaves a terminal order untouched and
// is reported as OutcomeAlreadyTerminal instead of an error.
//
// A declined attempt inside an open checkout session does not end the
// order: the customer may retry with another payment method. The order
// fails once the session itself reports the failure, or expires.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"saas-portal/internal/domain/orders"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyTerminal Outcome = "already-terminal"
	OutcomeUnmatched       Outcome = "unmatched"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotOwner        = errors.New("order belongs to another user")
	ErrNotPaid         = errors.New("order is not paid")
	ErrSessionRequired = errors.New("payment session id is required")
)

var (
	openStatuses = statusValues(orders.OpenStatuses)
	closedUnpaid = statusValues([]orders.Status{orders.StatusExpired, orders.StatusFailed})
)

func statusValues(ss []orders.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// CheckoutCompleted carries the provider fields of a completed checkout.
type CheckoutCompleted struct {
	SessionID       string
	OrderNo         string
	PaymentStatus   string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	PaymentIntentID string
}

// PaymentFailed carries the provider fields of a failed payment attempt.
// SessionClosed is set when the checkout session ended with the failure,
// so no further attempt can follow.
type PaymentFailed struct {
	PaymentIntentID string
	OrderNo         string
	FailureCode     string
	DeclineCode     string
	FailureMessage  string
	SessionClosed   bool
}

type StateMachine struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

type Option func(*StateMachine)

func WithClock(now func() time.Time) Option {
	return func(s *StateMachine) { s.now = now }
}

func New(db *gorm.DB, log *zap.Logger, opts ...Option) *StateMachine {
	s := &StateMachine{db: db, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CheckoutCompleted marks the orders of a completed session paid. A session
// completed with an unpaid asynchronous payment only moves to pending; the
// provider confirms it later with an async success or failure.
func (s *StateMachine) CheckoutCompleted(ctx context.Context, ev CheckoutCompleted) (Outcome, error) {
	if ev.SessionID == "" {
		return "", ErrSessionRequired
	}

	match := bySession(ev.SessionID)
	if ev.OrderNo != "" {
		n, err := s.count(ctx, match)
		if err != nil {
			return "", err
		}
		if n == 0 {
			match = byOrderNo(ev.OrderNo)
		}
	}

	now := s.now()
	record := map[string]any{
		"event":          "checkout.session.completed",
		"session_id":     ev.SessionID,
		"payment_status": ev.PaymentStatus,
		"amount_total":   ev.AmountTotal,
		"currency":       ev.Currency,
		"customer_email": ev.CustomerEmail,
		"payment_intent": ev.PaymentIntentID,
		"at":             now.UTC().Format(time.RFC3339),
	}

	if ev.PaymentStatus == "unpaid" {
		return s.apply(ctx, match, func(o *orders.Order) (map[string]any, error) {
			return s.withRecord(o, record, map[string]any{
				"status":                   string(orders.StatusPending),
				"stripe_payment_intent_id": firstNonEmpty(o.StripePaymentIntentID, ev.PaymentIntentID),
			})
		})
	}

	out, err := s.apply(ctx, match, func(o *orders.Order) (map[string]any, error) {
		record := maps.Clone(record)
		if o.Amount != ev.AmountTotal || !strings.EqualFold(o.Currency, ev.Currency) {
			s.log.Warn("Paid amount differs from order amount",
				zap.String("order_no", o.OrderNo),
				zap.Int64("order_amount", o.Amount),
				zap.String("order_currency", o.Currency),
				zap.Int64("paid_amount", ev.AmountTotal),
				zap.String("paid_currency", ev.Currency))
			record["amount_mismatch"] = true
		}
		return s.withRecord(o, record, map[string]any{
			"status":                   string(orders.StatusPaid),
			"paid_at":                  now,
			"paid_email":               ev.CustomerEmail,
			"stripe_payment_intent_id": firstNonEmpty(o.StripePaymentIntentID, ev.PaymentIntentID),
		})
	})
	if err != nil || out != OutcomeAlreadyTerminal {
		return out, err
	}
	if err := s.flagLatePayment(ctx, match, ev.SessionID, record); err != nil {
		return "", err
	}
	return out, nil
}

// flagLatePayment records a paid completion that arrived after the order
// expired or failed. The status stays as it is; the charge needs a manual
// refund or activation.
func (s *StateMachine) flagLatePayment(ctx context.Context, match func(*gorm.DB) *gorm.DB, sessionID string, record map[string]any) error {
	db := s.db.WithContext(ctx)

	var found []orders.Order
	if err := db.Scopes(match).Where("status IN ?", closedUnpaid).Find(&found).Error; err != nil {
		return fmt.Errorf("load closed orders: %w", err)
	}

	for i := range found {
		o := &found[i]
		s.log.Error("Payment completed for a closed order",
			zap.String("order_no", o.OrderNo),
			zap.String("session_id", sessionID),
			zap.String("status", string(o.Status)),
			zap.Bool("alert", true))

		late := maps.Clone(record)
		late["late_payment"] = true
		updates, err := s.withRecord(o, late, map[string]any{})
		if err != nil {
			return err
		}
		if err := db.Model(&orders.Order{}).
			Where("id = ? AND status = ?", o.ID, string(o.Status)).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("flag order %s: %w", o.OrderNo, err)
		}
	}
	return nil
}

// AsyncPaymentSucceeded confirms a checkout whose payment settled after
// the session completed.
func (s *StateMachine) AsyncPaymentSucceeded(ctx context.Context, ev CheckoutCompleted) (Outcome, error) {
	ev.PaymentStatus = "paid"
	return s.CheckoutCompleted(ctx, ev)
}

// CheckoutExpired marks the orders of an abandoned session expired.
func (s *StateMachine) CheckoutExpired(ctx context.Context, sessionID string) (Outcome, error) {
	if sessionID == "" {
		return "", ErrSessionRequired
	}

	now := s.now()
	record := map[string]any{
		"event":      "checkout.session.expired",
		"session_id": sessionID,
		"at":         now.UTC().Format(time.RFC3339),
	}

	return s.apply(ctx, bySession(sessionID), func(o *orders.Order) (map[string]any, error) {
		return s.withRecord(o, record, map[string]any{
			"status":     string(orders.StatusExpired),
			"expired_at": now,
		})
	})
}

// PaymentFailed records a failed payment against the order behind a payment
// intent. An order bound to a checkout session that is still open moves to
// pending with the attempt in its audit trail; any other order fails. The
// order is located by the order number the intent was created with, then by the
// stored intent id, then, for orders stored before intent ids were kept,
// by the intent id appearing inside the session id. No match is not an
// error: not every intent belongs to a tracked order.
func (s *StateMachine) PaymentFailed(ctx context.Context, ev PaymentFailed) (Outcome, error) {
	if ev.PaymentIntentID == "" && ev.OrderNo == "" {
		return OutcomeUnmatched, nil
	}

	var candidates []func(*gorm.DB) *gorm.DB
	if ev.OrderNo != "" {
		candidates = append(candidates, byOrderNo(ev.OrderNo))
	}
	if ev.PaymentIntentID != "" {
		candidates = append(candidates, byIntent(ev.PaymentIntentID), byLegacySessionMatch(ev.PaymentIntentID))
	}

	var match func(*gorm.DB) *gorm.DB
	for _, c := range candidates {
		n, err := s.count(ctx, c)
		if err != nil {
			return "", err
		}
		if n > 0 {
			match = c
			break
		}
	}
	if match == nil {
		s.log.Info("Payment failure for untracked intent",
			zap.String("payment_intent", ev.PaymentIntentID))
		return OutcomeUnmatched, nil
	}

	event := "payment_intent.payment_failed"
	if ev.SessionClosed {
		event = "checkout.session.async_payment_failed"
	}

	now := s.now()
	record := map[string]any{
		"event":           event,
		"payment_intent":  ev.PaymentIntentID,
		"failure_code":    ev.FailureCode,
		"decline_code":    ev.DeclineCode,
		"failure_message": ev.FailureMessage,
		"at":              now.UTC().Format(time.RFC3339),
	}

	return s.apply(ctx, match, func(o *orders.Order) (map[string]any, error) {
		intent := firstNonEmpty(o.StripePaymentIntentID, ev.PaymentIntentID)
		if o.StripeSessionID != "" && !ev.SessionClosed {
			s.log.Info("Payment attempt declined, checkout still open",
				zap.String("order_no", o.OrderNo),
				zap.String("payment_intent", ev.PaymentIntentID),
				zap.String("failure_code", ev.FailureCode))
			return s.withRecord(o, record, map[string]any{
				"status":                   string(orders.StatusPending),
				"stripe_payment_intent_id": intent,
			})
		}
		return s.withRecord(o, record, map[string]any{
			"status":                   string(orders.StatusFailed),
			"failed_at":                now,
			"stripe_payment_intent_id": intent,
		})
	})
}

// apply loads the orders selected by match and moves every open one with a
// conditional update. Orders that became terminal in between are skipped
// by the condition itself.
func (s *StateMachine) apply(
	ctx context.Context,
	match func(*gorm.DB) *gorm.DB,
	build func(o *orders.Order) (map[string]any, error),
) (Outcome, error) {
	db := s.db.WithContext(ctx)

	var found []orders.Order
	if err := db.Scopes(match).Find(&found).Error; err != nil {
		return "", fmt.Errorf("load orders: %w", err)
	}
	if len(found) == 0 {
		return OutcomeUnmatched, nil
	}

	var applied int64
	for i := range found {
		o := &found[i]
		if o.Status.Terminal() {
			continue
		}

		updates, err := build(o)
		if err != nil {
			return "", err
		}

		r := db.Model(&orders.Order{}).
			Where("id = ? AND status IN ?", o.ID, openStatuses).
			Updates(updates)
		if r.Error != nil {
			return "", fmt.Errorf("update order %s: %w", o.OrderNo, r.Error)
		}
		applied += r.RowsAffected
	}

	if applied == 0 {
		return OutcomeAlreadyTerminal, nil
	}
	return OutcomeApplied, nil
}

func (s *StateMachine) count(ctx context.Context, match func(*gorm.DB) *gorm.DB) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&orders.Order{}).Scopes(match).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// withRecord appends record to the order's audit trail and adds the
// encoded detail to updates.
func (s *StateMachine) withRecord(o *orders.Order, record, updates map[string]any) (map[string]any, error) {
	detail, err := o.Detail()
	if err != nil {
		s.log.Warn("Discarding unreadable paid_detail", zap.String("order_no", o.OrderNo), zap.Error(err))
		detail = map[string]any{}
	}

	events, _ := detail["events"].([]any)
	detail["events"] = append(events, record)

	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode paid_detail: %w", err)
	}
	updates["paid_detail"] = datatypes.JSON(raw)
	return updates, nil
}

func bySession(id string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Where("stripe_session_id = ?", id) }
}

func byOrderNo(no string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Where("order_no = ?", no) }
}

func byIntent(id string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Where("stripe_payment_intent_id = ?", id) }
}

func byLegacySessionMatch(intentID string) func(*gorm.DB) *gorm.DB {
	pattern := "%" + escapeLike(intentID) + "%"
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(stripe_payment_intent_id = '' OR stripe_payment_intent_id IS NULL) AND stripe_session_id <> '' AND stripe_session_id LIKE ? ESCAPE '\\'", pattern)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
