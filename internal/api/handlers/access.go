package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/core"
	"mayroga/internal/gate"
)

// CodeRedeemer redeems the shared access code.
type CodeRedeemer interface {
	CheckCode(ctx context.Context, nickname, submitted, token string) (gate.GrantResult, error)
}

// TicketIssuer issues unlock tickets after a successful redemption.
type TicketIssuer interface {
	Issue(nickname string) (string, time.Time, error)
}

// AccessRequest is the body of the access-code endpoints. Legacy field names
// are accepted alongside the canonical ones.
type AccessRequest struct {
	Nickname   string `json:"nickname"`
	Apodo      string `json:"apodo"`
	Code       string `json:"code"`
	Secret     string `json:"secret"`
	AccessCode string `json:"access_code"`
}

// accessInput is the normalized request, validated after alias resolution.
type accessInput struct {
	Nickname string `json:"nickname" validate:"nickname"`
	Code     string `json:"code" validate:"required,max=256"`
}

// AccessResponse is the body returned by the access-code endpoints.
type AccessResponse struct {
	Success         bool           `json:"success"`
	Credits         map[string]int `json:"credits,omitempty"`
	Ticket          string         `json:"ticket,omitempty"`
	TicketExpiresAt *time.Time     `json:"ticket_expires_at,omitempty"`
}

// AccessHandler redeems the access code and hands out unlock tickets.
type AccessHandler struct {
	gate      CodeRedeemer
	tickets   TicketIssuer
	validator *core.Validator
	logger    *slog.Logger
}

// NewAccessHandler creates an AccessHandler. tickets may be nil, in which
// case no ticket is returned.
func NewAccessHandler(g CodeRedeemer, tickets TicketIssuer, v *core.Validator, logger *slog.Logger) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{gate: g, tickets: tickets, validator: v, logger: logger}
}

// RegisterLimitedRoutes mounts the redemption aliases. They are rate limited
// because each attempt is a guess at the shared code.
func (h *AccessHandler) RegisterLimitedRoutes(r chi.Router) {
	r.Post("/access-code", h.Redeem)
	r.Post("/assistant-unlock", h.Redeem)
	r.Post("/validate-access-code", h.Redeem)
}

// Redeem handles the access-code endpoints. A wrong code is 403 with
// {"success": false}. The Idempotency-Key header, when present, makes a
// retried redemption grant nothing extra.
func (h *AccessHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	in := accessInput{
		Nickname: firstNonEmpty(req.Nickname, req.Apodo),
		Code:     firstNonEmpty(req.Code, req.Secret, req.AccessCode),
	}
	if err := h.validator.ValidateStruct(in); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.gate.CheckCode(r.Context(), in.Nickname, in.Code, r.Header.Get(idempotencyHeader))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !res.Granted {
		core.JSON(w, r, http.StatusForbidden, AccessResponse{Success: false})
		return
	}

	resp := AccessResponse{Success: true, Credits: res.Credits}
	if h.tickets != nil {
		tok, exp, err := h.tickets.Issue(in.Nickname)
		if err != nil {
			// The credits are granted either way; the client can still
			// stream with its nickname.
			h.logger.ErrorContext(r.Context(), "failed to issue unlock ticket", "error", err)
		} else {
			resp.Ticket = tok
			resp.TicketExpiresAt = &exp
		}
	}
	core.JSON(w, r, http.StatusOK, resp)
}
