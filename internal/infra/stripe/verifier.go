// Package stripe adapts the Stripe API to the payment state machine:
// webhook verification and decoding, checkout session creation and the
// price catalog.
package stripe

import (
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

var ErrSignature = errors.New("stripe webhook signature verification failed")

// Verifier checks the Stripe-Signature header of a webhook delivery against
// the endpoint secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify returns the event only if payload was signed with the endpoint
// secret within the default tolerance. Any failure wraps ErrSignature.
func (v *Verifier) Verify(payload []byte, header string) (stripego.Event, error) {
	if v.secret == "" {
		return stripego.Event{}, fmt.Errorf("%w: endpoint secret not configured", ErrSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, header, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripego.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return ev, nil
}
