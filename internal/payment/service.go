// Package payment turns catalog services into Stripe Checkout Sessions and
// grants credits once a session is paid. The webhook and the success
// redirect both end in Fulfill, which is idempotent on the session id.
package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mayroga/internal/catalog"
	"mayroga/internal/entitlement"
	"mayroga/internal/external"
	"mayroga/internal/types"
)

// Webhook event types that complete a purchase.
const (
	eventCheckoutCompleted     = external.EventCheckoutCompleted
	eventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// confirmTimeout bounds a shared confirmation, which outlives the caller
// that started it.
const confirmTimeout = 30 * time.Second

// Checkout is a freshly created session the client is redirected to.
type Checkout struct {
	SessionID   string `json:"id"`
	CheckoutURL string `json:"url"`
}

// Fulfillment reports the grant produced by a paid session. Applied is false
// when the session had already been fulfilled.
type Fulfillment struct {
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname"`
	ServiceID string `json:"service_id"`
	Credits   int    `json:"credits"`
	Applied   bool   `json:"-"`
}

// Config holds the URLs and currency used for new sessions.
type Config struct {
	BaseURL  string
	Currency string
}

// Service is the payment session factory.
type Service struct {
	registry catalog.Registry
	provider external.PaymentProvider
	store    entitlement.Store
	cfg      Config
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService creates a payment Service.
func NewService(registry catalog.Registry, provider external.PaymentProvider, store entitlement.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Service{registry: registry, provider: provider, store: store, cfg: cfg, logger: logger}
}

// SuccessURL is the redirect Stripe follows after payment. Stripe replaces
// the {CHECKOUT_SESSION_ID} placeholder.
func (s *Service) SuccessURL() string {
	return s.cfg.BaseURL + "/success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is the redirect for abandoned checkouts.
func (s *Service) CancelURL() string {
	return s.cfg.BaseURL + "/cancel"
}

// CreateSession creates a Checkout Session priced from the catalog.
func (s *Service) CreateSession(ctx context.Context, nickname, serviceID string) (Checkout, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return Checkout{}, err
	}
	svc, ok := s.registry.Get(serviceID)
	if !ok {
		return Checkout{}, types.InvalidServiceError(serviceID)
	}

	currency := svc.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	session, err := s.provider.CreateCheckoutSession(ctx, external.CheckoutRequest{
		Nickname:    n,
		ServiceID:   svc.ID,
		ProductName: svc.Name,
		AmountCents: svc.PriceCents,
		Currency:    currency,
		SuccessURL:  s.SuccessURL(),
		CancelURL:   s.CancelURL(),
	})
	if err != nil {
		return Checkout{}, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"nickname", n,
		"service_id", svc.ID,
		"amount_cents", svc.PriceCents,
	)
	return Checkout{SessionID: session.ID, CheckoutURL: session.URL}, nil
}

// ConfirmSession re-reads the session from the provider and fulfills it when
// paid. Identity always comes from the session metadata. Concurrent calls
// for the same id share one provider round trip; a caller that goes away
// returns its own context error without cancelling the others.
func (s *Service) ConfirmSession(ctx context.Context, sessionID string) (Fulfillment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Fulfillment{}, types.NewAppError(types.ErrCodeValidationMissingField, "session_id is required", nil)
	}

	ch := s.group.DoChan(sessionID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
		defer cancel()

		session, err := s.provider.RetrieveCheckoutSession(sctx, sessionID)
		if err != nil {
			return Fulfillment{}, err
		}
		return s.Fulfill(sctx, session)
	})

	select {
	case <-ctx.Done():
		return Fulfillment{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.DebugContext(ctx, "confirmation shared with in-flight request", "session_id", sessionID)
		}
		if res.Err != nil {
			return Fulfillment{}, res.Err
		}
		return res.Val.(Fulfillment), nil
	}
}

// HandleEvent processes a verified webhook event. It reports whether the
// event produced a fulfillment. Unrelated events and unpaid sessions are
// acknowledged without error.
func (s *Service) HandleEvent(ctx context.Context, evt external.Event) (bool, error) {
	switch evt.Type {
	case eventCheckoutCompleted, eventAsyncPaymentSucceeded:
	default:
		s.logger.DebugContext(ctx, "ignoring webhook event", "event_id", evt.ID, "type", evt.Type)
		return false, nil
	}

	session, err := external.EventSession(evt)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeValidationInvalidPayload, "event has no checkout session", err)
	}
	if !session.Paid() {
		s.logger.InfoContext(ctx, "checkout completed without payment yet",
			"event_id", evt.ID,
			"session_id", session.ID,
			"payment_status", session.PaymentStatus,
		)
		return false, nil
	}

	if _, err := s.Fulfill(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// Fulfill grants CreditsPerPurchase for a paid session using the token
// stripe:<session_id>. Repeated calls for the same session never add
// credits twice.
func (s *Service) Fulfill(ctx context.Context, session external.CheckoutSession) (Fulfillment, error) {
	if !session.Paid() {
		return Fulfillment{}, types.NewAppErrorWithDetails(types.ErrCodePaymentNotCompleted,
			"payment has not been completed", nil,
			map[string]any{"payment_status": session.PaymentStatus})
	}

	nickname := session.Metadata[external.MetadataNickname]
	if nickname == "" {
		nickname = session.ClientRefID
	}
	serviceID := session.Metadata[external.MetadataServiceID]
	svc, ok := s.registry.Get(serviceID)
	if !ok {
		s.logger.ErrorContext(ctx, "paid session references unknown service",
			"session_id", session.ID,
			"service_id", serviceID,
		)
		return Fulfillment{}, types.InvalidServiceError(serviceID)
	}

	amount := svc.CreditsPerPurchase
	if amount <= 0 {
		amount = 1
	}
	applied, err := s.store.GrantCredits(ctx, nickname, svc.ID, amount, entitlement.PaymentToken(session.ID))
	if err != nil {
		return Fulfillment{}, err
	}
	credits, err := s.store.GetCredits(ctx, nickname, svc.ID)
	if err != nil {
		return Fulfillment{}, err
	}

	n, _ := entitlement.NormalizeNickname(nickname)
	s.logger.InfoContext(ctx, "checkout session fulfilled",
		"session_id", session.ID,
		"nickname", n,
		"service_id", svc.ID,
		"applied", applied,
		"credits", credits,
	)
	return Fulfillment{
		SessionID: session.ID,
		Nickname:  n,
		ServiceID: svc.ID,
		Credits:   credits,
		Applied:   applied,
	}, nil
}
