package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mayroga/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the API boot with IS_TEST_MODE=true or APP_ENV=local without any
// vendor credentials. They log each call and return predictable values.
// ---------------------------------------------------------------------------

// StubPaymentProvider keeps sessions in memory. Every session it creates is
// reported as paid when retrieved, so the success redirect works locally.
type StubPaymentProvider struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]CheckoutSession
}

// NewStubPaymentProvider creates a new StubPaymentProvider.
func NewStubPaymentProvider(logger *slog.Logger) *StubPaymentProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubPaymentProvider{logger: logger, sessions: make(map[string]CheckoutSession)}
}

func (s *StubPaymentProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	id := "cs_stub_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	session := CheckoutSession{
		ID:            id,
		URL:           strings.ReplaceAll(req.SuccessURL, "{CHECKOUT_SESSION_ID}", url.QueryEscape(id)),
		PaymentStatus: PaymentStatusPaid,
		ClientRefID:   req.Nickname,
		Metadata: map[string]string{
			MetadataNickname:  req.Nickname,
			MetadataServiceID: req.ServiceID,
		},
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"session_id", id,
		"service_id", req.ServiceID,
		"amount_cents", req.AmountCents,
	)
	return session, nil
}

func (s *StubPaymentProvider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: RetrieveCheckoutSession called", "session_id", sessionID, "found", ok)
	if !ok {
		return CheckoutSession{}, types.NewAppError(types.ErrCodeNotFoundSession, "checkout session not found", nil)
	}
	return session, nil
}

// StubChatProvider answers every request with a fixed, recognizable reply.
type StubChatProvider struct {
	name   string
	logger *slog.Logger
}

// NewStubChatProvider creates a stub registered under name.
func NewStubChatProvider(name string, logger *slog.Logger) *StubChatProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubChatProvider{name: name, logger: logger}
}

func (s *StubChatProvider) Name() string { return s.name }

func (s *StubChatProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	s.logger.InfoContext(ctx, "stub: Complete called",
		"provider", s.name,
		"message_len", len(req.Message),
	)
	return fmt.Sprintf("[%s] %s", s.name, req.Message), nil
}

// StubWebhookVerifier decodes events without checking the signature.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubWebhookVerifier{logger: logger}
}

type stubEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object *CheckoutSession `json:"object"`
	} `json:"data"`
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) (Event, error) {
	s.logger.Info("stub: webhook Verify called", "payload_len", len(payload))

	var raw stubEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "malformed webhook event", err)
	}
	evt := Event{ID: raw.ID, Type: raw.Type}
	if strings.HasPrefix(raw.Type, "checkout.session.") {
		evt.Session = raw.Data.Object
	}
	return evt, nil
}

var (
	_ PaymentProvider = (*StubPaymentProvider)(nil)
	_ ChatProvider    = (*StubChatProvider)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
	_ WebhookVerifier = StripeVerifier{}
)
