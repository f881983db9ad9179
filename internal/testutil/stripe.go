package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v75/webhook"
)

// SignedEvent builds a Stripe event envelope around object and signs it
// with secret the way Stripe does.
func SignedEvent(t *testing.T, secret, id, eventType string, object any) (payload []byte, header string) {
	t.Helper()

	obj, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}

	envelope := map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": obj},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}
