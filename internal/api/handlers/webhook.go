package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/core"
	"mayroga/internal/external"
	"mayroga/internal/types"
)

// maxWebhookBodySize bounds Stripe webhook payloads (64 KB).
const maxWebhookBodySize = 64 * 1024

// EventHandler fulfills verified payment events.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt external.Event) (bool, error)
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// WebhookHandler receives Stripe events. It is called by Stripe directly;
// the Stripe-Signature header over the raw body is the only authentication.
type WebhookHandler struct {
	verifier external.WebhookVerifier
	events   EventHandler
	secret   string
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(verifier external.WebhookVerifier, events EventHandler, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{verifier: verifier, events: events, secret: secret, logger: logger}
}

// RegisterRoutes mounts the webhook aliases.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
	r.Post("/stripe-webhook", h.Handle)
	r.Post("/webhook-stripe", h.Handle)
}

// Handle verifies and processes one event.
//
// Bad signatures and malformed bodies are 400 so they show up as failed
// deliveries in the Stripe dashboard. Validation failures during fulfillment
// (an unknown service in metadata) are acknowledged, since a retry cannot fix
// them. Store and other internal failures return 500 and Stripe retries; the
// grant token makes the retry safe.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to read request body", err))
		return
	}

	evt, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook verification failed", "error", err)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", evt.ID,
		"event_type", evt.Type,
	)

	if _, err := h.events.HandleEvent(r.Context(), evt); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus() < http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "webhook event rejected",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"error", err,
			)
			core.JSON(w, r, http.StatusOK, WebhookResponse{Received: true})
			return
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, WebhookResponse{Received: true})
}
