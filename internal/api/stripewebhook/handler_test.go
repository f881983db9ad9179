package stripewebhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"saas-portal/internal/domain/billing"
	"saas-portal/internal/domain/orders"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/testutil"
	"saas-portal/internal/testutil/testdeps"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func setup(t *testing.T) (*testdeps.Fixture, *gin.Engine) {
	t.Helper()
	f := testdeps.New(t)
	r := gin.New()
	r.POST("/webhook", New(f.Deps).StripeWebhook)
	return f, r
}

func deliver(r *gin.Engine, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedOrder(t *testing.T, f *testdeps.Fixture, orderNo, sessionID string) {
	t.Helper()
	require.NoError(t, f.DB.Create(&orders.Order{
		OrderNo:         orderNo,
		UserUUID:        "user-1",
		Amount:          2000,
		Currency:        "usd",
		Status:          orders.StatusCreated,
		StripeSessionID: sessionID,
	}).Error)
}

func load(t *testing.T, f *testdeps.Fixture, orderNo string) *orders.Order {
	t.Helper()
	o, err := f.Payments.Find(context.Background(), orderNo)
	require.NoError(t, err)
	return o
}

var completedSession = map[string]any{
	"id":             "cs_test_1",
	"object":         "checkout.session",
	"payment_status": "paid",
	"amount_total":   2000,
	"currency":       "usd",
	"customer_details": map[string]any{
		"email": "buyer@x.com",
	},
}

func TestWebhook_CheckoutCompletedTwice(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-1", "cs_test_1")

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventCheckoutCompleted, completedSession)

	w := deliver(r, payload, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	o := load(t, f, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "buyer@x.com", o.PaidEmail)
	require.NotNil(t, o.PaidAt)
	paidAt := *o.PaidAt

	w = deliver(r, payload, header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	o = load(t, f, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.True(t, paidAt.Equal(*o.PaidAt))

	// Same session under a new event id hits the terminal-state guard.
	payload, header = testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_2", stripe.EventCheckoutCompleted, completedSession)
	assert.Equal(t, http.StatusOK, deliver(r, payload, header).Code)
	assert.True(t, paidAt.Equal(*load(t, f, "ORD-1").PaidAt))
}

func TestWebhook_BadSignature(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-1", "cs_test_1")

	payload, _ := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventCheckoutCompleted, completedSession)
	_, wrongHeader := testutil.SignedEvent(t, "whsec_other", "evt_1", stripe.EventCheckoutCompleted, completedSession)

	assert.Equal(t, http.StatusBadRequest, deliver(r, payload, wrongHeader).Code)
	assert.Equal(t, http.StatusBadRequest, deliver(r, payload, "").Code)

	assert.Equal(t, orders.StatusCreated, load(t, f, "ORD-1").Status)

	var n int64
	require.NoError(t, f.DB.Model(&billing.WebhookEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWebhook_ExpiredAfterPaid(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-1", "cs_test_1")

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventCheckoutCompleted, completedSession)
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	payload, header = testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_2", stripe.EventCheckoutExpired, map[string]any{"id": "cs_test_1"})
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	o := load(t, f, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Nil(t, o.ExpiredAt)
}

func TestWebhook_Expired(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-2", "cs_test_2")

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventCheckoutExpired, map[string]any{"id": "cs_test_2"})
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	o := load(t, f, "ORD-2")
	assert.Equal(t, orders.StatusExpired, o.Status)
	assert.NotNil(t, o.ExpiredAt)
}

func TestWebhook_PaymentFailed(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-3", "cs_test_3")
	require.NoError(t, f.DB.Model(&orders.Order{}).Where("order_no = ?", "ORD-3").Update("stripe_payment_intent_id", "pi_3").Error)

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventPaymentFailed, map[string]any{
		"id":     "pi_3",
		"object": "payment_intent",
		"last_payment_error": map[string]any{
			"code":         "card_declined",
			"decline_code": "generic_decline",
			"message":      "Your card was declined.",
		},
	})
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	o := load(t, f, "ORD-3")
	assert.Equal(t, orders.StatusPending, o.Status, "a declined card leaves the checkout open")
	assert.Contains(t, string(o.PaidDetail), "card_declined")

	payload, header = testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_2", stripe.EventAsyncPaymentFailed, map[string]any{
		"id":                  "cs_test_3",
		"object":              "checkout.session",
		"client_reference_id": "ORD-3",
		"payment_status":      "unpaid",
		"payment_intent":      "pi_3",
	})
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	o = load(t, f, "ORD-3")
	assert.Equal(t, orders.StatusFailed, o.Status)
	assert.NotNil(t, o.FailedAt)
	detail, err := o.Detail()
	require.NoError(t, err)
	assert.Len(t, detail["events"], 2)
}

func TestWebhook_DeclinedCardThenPaid(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-1", "cs_test_1")

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventPaymentFailed, map[string]any{
		"id":       "pi_1",
		"object":   "payment_intent",
		"metadata": map[string]any{"order_no": "ORD-1"},
		"last_payment_error": map[string]any{
			"code": "card_declined",
		},
	})
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	payload, header = testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_2", stripe.EventCheckoutCompleted, completedSession)
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	o := load(t, f, "ORD-1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "buyer@x.com", o.PaidEmail)
	assert.NotNil(t, o.PaidAt)
}

func TestWebhook_UnmatchedAndUnknown(t *testing.T) {
	_, r := setup(t)

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventPaymentFailed, map[string]any{"id": "pi_nobody"})
	w := deliver(r, payload, header)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	payload, header = testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_2", "customer.created", map[string]any{"id": "cus_1"})
	assert.Equal(t, http.StatusOK, deliver(r, payload, header).Code)
}

func TestWebhook_StoreFailureIsRetryable(t *testing.T) {
	f, r := setup(t)
	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_1", stripe.EventCheckoutCompleted, completedSession)

	sqlDB, err := f.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.Equal(t, http.StatusInternalServerError, deliver(r, payload, header).Code)
}

func TestWebhook_LedgerRecordsOutcome(t *testing.T) {
	f, r := setup(t)
	seedOrder(t, f, "ORD-1", "cs_test_1")

	payload, header := testutil.SignedEvent(t, testdeps.WebhookSecret, "evt_9", stripe.EventCheckoutCompleted, completedSession)
	require.Equal(t, http.StatusOK, deliver(r, payload, header).Code)

	var ev billing.WebhookEvent
	require.NoError(t, f.DB.Where("event_id = ?", "evt_9").First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.Error)

	again, err := f.Payments.BeginEvent(context.Background(), billing.ProviderStripe, "evt_9", stripe.EventCheckoutCompleted)
	require.NoError(t, err)
	assert.False(t, again)
}
