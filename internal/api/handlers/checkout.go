package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/core"
	"mayroga/internal/payment"
	"mayroga/internal/types"
)

// PaymentService creates and confirms checkout sessions.
type PaymentService interface {
	CreateSession(ctx context.Context, nickname, serviceID string) (payment.Checkout, error)
	ConfirmSession(ctx context.Context, sessionID string) (payment.Fulfillment, error)
}

// CheckoutRequest is the body of POST /create-checkout-session.
type CheckoutRequest struct {
	Service   string `json:"service"`
	ServiceID string `json:"service_id"`
	Product   string `json:"product"`
	Nickname  string `json:"nickname"`
	Apodo     string `json:"apodo"`
}

type checkoutInput struct {
	Nickname  string `json:"nickname" validate:"nickname"`
	ServiceID string `json:"service" validate:"required"`
}

// SuccessResponse is the body of GET /success.
type SuccessResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname"`
	ServiceID string `json:"service_id"`
	Credits   int    `json:"credits"`
}

// CancelResponse is the body of GET /cancel.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// cancelMessage is shown when the user abandons checkout.
const cancelMessage = "Pago cancelado. No se realizó ningún cargo."

// CheckoutHandler starts checkout and handles the Stripe redirects.
type CheckoutHandler struct {
	payments  PaymentService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(payments PaymentService, v *core.Validator, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{payments: payments, validator: v, logger: logger}
}

// RegisterRoutes mounts the redirect targets.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Get("/success", h.Success)
	r.Get("/cancel", h.Cancel)
}

// RegisterLimitedRoutes mounts session creation.
func (h *CheckoutHandler) RegisterLimitedRoutes(r chi.Router) {
	r.Post("/create-checkout-session", h.CreateSession)
}

// CreateSession handles POST /create-checkout-session.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	in := checkoutInput{
		Nickname:  firstNonEmpty(req.Nickname, req.Apodo),
		ServiceID: firstNonEmpty(req.Service, req.ServiceID, req.Product),
	}
	if err := h.validator.ValidateStruct(in); err != nil {
		core.Error(w, r, err)
		return
	}

	checkout, err := h.payments.CreateSession(r.Context(), in.Nickname, in.ServiceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, checkout)
}

// Success handles GET /success?session_id=. The session is re-read from
// Stripe; nothing in the query string besides the id is trusted.
func (h *CheckoutHandler) Success(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "session_id is required", nil))
		return
	}

	f, err := h.payments.ConfirmSession(r.Context(), sessionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, SuccessResponse{
		Success:   true,
		SessionID: f.SessionID,
		Nickname:  f.Nickname,
		ServiceID: f.ServiceID,
		Credits:   f.Credits,
	})
}

// Cancel handles GET /cancel.
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, CancelResponse{Success: false, Message: cancelMessage})
}
