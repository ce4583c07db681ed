package external

import (
	"encoding/json"
	"errors"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"mayroga/internal/types"
)

// Event is a verified Stripe webhook event. Session is populated for
// checkout.session.* events only.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// VerifyWebhook checks the Stripe-Signature header against the raw request
// body and decodes the event. It has no side effects. Signature failures
// map to validation_invalid_signature and malformed bodies to
// validation_invalid_payload.
func VerifyWebhook(payload []byte, header, secret string) (Event, error) {
	if header == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidSignature, "missing Stripe-Signature header", nil)
	}
	if secret == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidSignature, "webhook secret is not configured", nil)
	}
	if err := webhook.ValidatePayload(payload, header, secret); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidSignature, "invalid webhook signature", err)
	}

	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed webhook event", err)
	}

	evt := Event{ID: raw.ID, Type: string(raw.Type)}
	if evt.Type == "" {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "webhook event has no type", nil)
	}
	if raw.Data != nil && raw.Data.Object["object"] == "checkout.session" {
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &cs); err != nil {
			return Event{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed checkout session", err)
		}
		session := fromStripeSession(&cs)
		evt.Session = &session
	}
	return evt, nil
}

// StripeVerifier implements WebhookVerifier with VerifyWebhook.
type StripeVerifier struct{}

func (StripeVerifier) Verify(payload []byte, header, secret string) (Event, error) {
	return VerifyWebhook(payload, header, secret)
}

// ErrNoSession is returned by EventSession for events without a session.
var ErrNoSession = errors.New("event carries no checkout session")

// EventSession returns the checkout session carried by evt.
func EventSession(evt Event) (CheckoutSession, error) {
	if evt.Session == nil {
		return CheckoutSession{}, ErrNoSession
	}
	return *evt.Session, nil
}
