package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"saas-portal/internal/domain/orders"
	"saas-portal/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newMachine(t *testing.T) (*StateMachine, *gorm.DB, *clock) {
	t.Helper()
	db := testutil.NewDB(t)
	c := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	return New(db, testutil.Logger(), WithClock(c.Now)), db, c
}

func newObservedMachine(t *testing.T) (*StateMachine, *gorm.DB, *observer.ObservedLogs) {
	t.Helper()
	db := testutil.NewDB(t)
	core, logs := observer.New(zap.InfoLevel)
	c := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	return New(db, zap.New(core), WithClock(c.Now)), db, logs
}

func seedOrder(t *testing.T, db *gorm.DB, o orders.Order) orders.Order {
	t.Helper()
	if o.UserUUID == "" {
		o.UserUUID = "owner-uuid"
	}
	if o.Amount == 0 {
		o.Amount = 2000
	}
	if o.Currency == "" {
		o.Currency = "usd"
	}
	require.NoError(t, db.Create(&o).Error)
	return o
}

func load(t *testing.T, db *gorm.DB, orderNo string) orders.Order {
	t.Helper()
	var o orders.Order
	require.NoError(t, db.Where("order_no = ?", orderNo).First(&o).Error)
	return o
}

func completed(session string) CheckoutCompleted {
	return CheckoutCompleted{
		SessionID:     session,
		PaymentStatus: "paid",
		AmountTotal:   2000,
		Currency:      "usd",
		CustomerEmail: "buyer@x.com",
	}
}

func TestCheckoutCompleted_Scenario(t *testing.T) {
	m, db, c := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", Status: orders.StatusCreated, StripeSessionID: "cs_test_1"})
	ctx := context.Background()

	out, err := m.CheckoutCompleted(ctx, completed("cs_test_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	first := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPaid, first.Status)
	require.NotNil(t, first.PaidAt)
	assert.True(t, first.PaidAt.Equal(c.t))
	assert.Equal(t, "buyer@x.com", first.PaidEmail)

	c.t = c.t.Add(time.Minute)
	out, err = m.CheckoutCompleted(ctx, completed("cs_test_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)

	second := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPaid, second.Status)
	assert.True(t, second.PaidAt.Equal(*first.PaidAt))
	assert.Equal(t, first.PaidDetail.String(), second.PaidDetail.String())
}

func TestCheckoutCompleted_RecordsAudit(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1", Amount: 1500})

	ev := completed("cs_1")
	ev.PaymentIntentID = "pi_1"
	_, err := m.CheckoutCompleted(context.Background(), ev)
	require.NoError(t, err)

	o := load(t, db, "ORD-1")
	assert.Equal(t, "pi_1", o.StripePaymentIntentID)

	d, err := o.Detail()
	require.NoError(t, err)
	events, ok := d["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	rec := events[0].(map[string]any)
	assert.Equal(t, "checkout.session.completed", rec["event"])
	assert.Equal(t, "cs_1", rec["session_id"])
	assert.EqualValues(t, 2000, rec["amount_total"])
	assert.Equal(t, true, rec["amount_mismatch"])
}

func TestCheckoutCompleted_DoesNotReviveExpired(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	out, err := m.CheckoutExpired(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusExpired, o.Status)
	assert.Nil(t, o.PaidAt)
	assert.NotNil(t, o.ExpiredAt)
}

func TestCheckoutCompleted_LatePaymentIsFlagged(t *testing.T) {
	m, db, logs := newObservedMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	_, err := m.CheckoutExpired(ctx, "cs_1")
	require.NoError(t, err)

	out, err := m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusExpired, o.Status)
	assert.Nil(t, o.PaidAt)

	d, err := o.Detail()
	require.NoError(t, err)
	events := d["events"].([]any)
	require.Len(t, events, 2)
	late := events[1].(map[string]any)
	assert.Equal(t, true, late["late_payment"])
	assert.Equal(t, "cs_1", late["session_id"])

	flagged := logs.FilterMessage("Payment completed for a closed order").All()
	require.Len(t, flagged, 1)
	assert.Equal(t, zap.ErrorLevel, flagged[0].Level)
	fields := flagged[0].ContextMap()
	assert.Equal(t, "ORD-1", fields["order_no"])
	assert.Equal(t, "cs_1", fields["session_id"])
	assert.Equal(t, true, fields["alert"])
}

func TestCheckoutCompleted_RedeliveryOnPaidIsQuiet(t *testing.T) {
	m, db, logs := newObservedMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	_, err := m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)
	out, err := m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)

	assert.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
	o := load(t, db, "ORD-1")
	d, err := o.Detail()
	require.NoError(t, err)
	assert.Len(t, d["events"], 1)
}

func TestCheckoutExpired_AfterPaidIsNoop(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	_, err := m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)

	out, err := m.CheckoutExpired(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Nil(t, o.ExpiredAt)
}

func TestCheckoutCompleted_UnknownSession(t *testing.T) {
	m, _, _ := newMachine(t)
	out, err := m.CheckoutCompleted(context.Background(), completed("cs_missing"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)

	_, err = m.CheckoutCompleted(context.Background(), CheckoutCompleted{})
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestCheckoutCompleted_FallsBackToOrderNo(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1"})

	ev := completed("cs_new")
	ev.OrderNo = "ORD-1"
	out, err := m.CheckoutCompleted(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, orders.StatusPaid, load(t, db, "ORD-1").Status)
}

func TestCheckoutCompleted_UnpaidMovesToPending(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	ev := completed("cs_1")
	ev.PaymentStatus = "unpaid"
	out, err := m.CheckoutCompleted(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, orders.StatusPending, load(t, db, "ORD-1").Status)

	out, err = m.AsyncPaymentSucceeded(ctx, completed("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	d, err := o.Detail()
	require.NoError(t, err)
	assert.Len(t, d["events"], 2)
}

func TestPaymentFailed_MatchesByIntentID(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripePaymentIntentID: "pi_123"})

	out, err := m.PaymentFailed(context.Background(), PaymentFailed{
		PaymentIntentID: "pi_123",
		FailureCode:     "card_declined",
		FailureMessage:  "Your card was declined.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.NotNil(t, o.FailedAt)
	d, err := o.Detail()
	require.NoError(t, err)
	rec := d["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "card_declined", rec["failure_code"])
	assert.Equal(t, "Your card was declined.", rec["failure_message"])
}

func TestPaymentFailed_MatchesByOrderNoMetadata(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1"})

	out, err := m.PaymentFailed(context.Background(), PaymentFailed{PaymentIntentID: "pi_9", OrderNo: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.Equal(t, "pi_9", o.StripePaymentIntentID)
}

func TestPaymentFailed_OpenCheckoutKeepsOrderOpen(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})

	out, err := m.PaymentFailed(context.Background(), PaymentFailed{
		PaymentIntentID: "pi_1",
		OrderNo:         "ORD-1",
		FailureCode:     "card_declined",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Nil(t, o.FailedAt)
	assert.Equal(t, "pi_1", o.StripePaymentIntentID)
	d, err := o.Detail()
	require.NoError(t, err)
	rec := d["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "payment_intent.payment_failed", rec["event"])
	assert.Equal(t, "card_declined", rec["failure_code"])
}

func TestPaymentFailed_DeclinedThenPaid(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	_, err := m.PaymentFailed(ctx, PaymentFailed{PaymentIntentID: "pi_1", OrderNo: "ORD-1", FailureCode: "card_declined"})
	require.NoError(t, err)

	ev := completed("cs_1")
	ev.PaymentIntentID = "pi_1"
	out, err := m.CheckoutCompleted(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, "buyer@x.com", o.PaidEmail)
	d, err := o.Detail()
	require.NoError(t, err)
	assert.Len(t, d["events"], 2)
}

func TestPaymentFailed_ClosedSessionFailsOrder(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1"})
	ctx := context.Background()

	_, err := m.PaymentFailed(ctx, PaymentFailed{PaymentIntentID: "pi_1", OrderNo: "ORD-1"})
	require.NoError(t, err)
	out, err := m.PaymentFailed(ctx, PaymentFailed{PaymentIntentID: "pi_1", OrderNo: "ORD-1", SessionClosed: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	o := load(t, db, "ORD-1")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.NotNil(t, o.FailedAt)
	d, err := o.Detail()
	require.NoError(t, err)
	events := d["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "checkout.session.async_payment_failed", events[1].(map[string]any)["event"])
}

func TestPaymentFailed_LegacySessionContainsIntent(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_pi_777_secret"})

	out, err := m.PaymentFailed(context.Background(), PaymentFailed{PaymentIntentID: "pi_777", SessionClosed: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, orders.StatusFailed, load(t, db, "ORD-1").Status)
}

func TestPaymentFailed_LegacyMatchIsLiteral(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_piX777"})

	out, err := m.PaymentFailed(context.Background(), PaymentFailed{PaymentIntentID: "pi_777"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)
	assert.Equal(t, orders.StatusCreated, load(t, db, "ORD-1").Status)
}

func TestPaymentFailed_Unmatched(t *testing.T) {
	m, _, _ := newMachine(t)
	out, err := m.PaymentFailed(context.Background(), PaymentFailed{PaymentIntentID: "pi_unknown"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)

	out, err = m.PaymentFailed(context.Background(), PaymentFailed{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)
}

func TestPaymentFailed_AfterPaidIsNoop(t *testing.T) {
	m, db, _ := newMachine(t)
	seedOrder(t, db, orders.Order{OrderNo: "ORD-1", StripeSessionID: "cs_1", StripePaymentIntentID: "pi_1"})
	ctx := context.Background()

	_, err := m.CheckoutCompleted(ctx, completed("cs_1"))
	require.NoError(t, err)

	out, err := m.PaymentFailed(ctx, PaymentFailed{PaymentIntentID: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, out)
	assert.Equal(t, orders.StatusPaid, load(t, db, "ORD-1").Status)
}

func TestStoreFailureIsReported(t *testing.T) {
	m, db, _ := newMachine(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = m.CheckoutCompleted(context.Background(), completed("cs_1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionRequired))
}
