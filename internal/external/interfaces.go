package external

import (
	"context"
)

// ---------------------------------------------------------------------------
// Payments (Stripe Checkout)
// ---------------------------------------------------------------------------

// CheckoutRequest describes a one-off Checkout Session for a single service.
type CheckoutRequest struct {
	Nickname    string
	ServiceID   string
	ProductName string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the subset of a Stripe Checkout Session the API uses.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	ClientRefID   string            `json:"client_reference_id"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether Stripe considers the session settled.
func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// Checkout Session payment_status values.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Metadata keys written on every session.
const (
	MetadataNickname  = "nickname"
	MetadataServiceID = "service_id"
)

// PaymentProvider creates and reads Checkout Sessions.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}

// WebhookVerifier checks a Stripe-Signature header and decodes the event.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) (Event, error)
}

// Stripe event types the webhook acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
)

// ---------------------------------------------------------------------------
// Chat providers (OpenAI, Gemini)
// ---------------------------------------------------------------------------

// ChatRequest is a single-turn completion: a system prompt and one user
// message. No conversation history is sent.
type ChatRequest struct {
	System  string
	Message string
}

// ChatProvider produces a reply for a ChatRequest.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}
