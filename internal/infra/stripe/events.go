package stripe

import (
	"encoding/json"
	"fmt"

	"saas-portal/internal/service/payments"

	stripego "github.com/stripe/stripe-go/v75"
)

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventPaymentFailed         = "payment_intent.payment_failed"
)

// MetadataOrderNo is the metadata key checkout sessions and payment
// intents carry the order number under.
const MetadataOrderNo = "order_no"

func DecodeCheckoutCompleted(ev stripego.Event) (payments.CheckoutCompleted, error) {
	var s stripego.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return payments.CheckoutCompleted{}, fmt.Errorf("decode checkout session: %w", err)
	}

	email := s.CustomerEmail
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		email = s.CustomerDetails.Email
	}

	out := payments.CheckoutCompleted{
		SessionID:     s.ID,
		OrderNo:       s.ClientReferenceID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: email,
	}
	if out.OrderNo == "" && s.Metadata != nil {
		out.OrderNo = s.Metadata[MetadataOrderNo]
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out, nil
}

func DecodeSessionID(ev stripego.Event) (string, error) {
	var s struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}
	return s.ID, nil
}

// lastPaymentError is decoded on its own: only these fields are kept in
// the audit trail.
type lastPaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

func DecodePaymentFailed(ev stripego.Event) (payments.PaymentFailed, error) {
	var pi stripego.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return payments.PaymentFailed{}, fmt.Errorf("decode payment intent: %w", err)
	}

	var raw struct {
		LastPaymentError *lastPaymentError `json:"last_payment_error"`
	}
	if err := json.Unmarshal(ev.Data.Raw, &raw); err != nil {
		return payments.PaymentFailed{}, fmt.Errorf("decode payment error: %w", err)
	}

	out := payments.PaymentFailed{PaymentIntentID: pi.ID}
	if pi.Metadata != nil {
		out.OrderNo = pi.Metadata[MetadataOrderNo]
	}
	if e := raw.LastPaymentError; e != nil {
		out.FailureCode = e.Code
		out.DeclineCode = e.DeclineCode
		out.FailureMessage = e.Message
	}
	return out, nil
}

// DecodeAsyncPaymentFailed turns a failed delayed checkout payment into a
// payment failure for the session's order.
func DecodeAsyncPaymentFailed(ev stripego.Event) (payments.PaymentFailed, error) {
	cc, err := DecodeCheckoutCompleted(ev)
	if err != nil {
		return payments.PaymentFailed{}, err
	}
	return payments.PaymentFailed{
		PaymentIntentID: cc.PaymentIntentID,
		OrderNo:         cc.OrderNo,
		FailureCode:     "async_payment_failed",
		SessionClosed:   true,
	}, nil
}
