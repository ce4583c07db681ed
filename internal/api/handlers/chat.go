package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/catalog"
	"mayroga/internal/core"
	"mayroga/internal/prompt"
	"mayroga/internal/types"
)

// ChatRouter produces the assistant reply for one message.
type ChatRouter interface {
	RouteAs(ctx context.Context, nickname, serviceID, message, language string) (prompt.Reply, error)
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	Message   string `json:"message"`
	Mensaje   string `json:"mensaje"`
	Service   string `json:"service"`
	ServiceID string `json:"service_id"`
	Nickname  string `json:"nickname"`
	Apodo     string `json:"apodo"`
	Language  string `json:"language"`
	Lang      string `json:"lang"`
}

type chatInput struct {
	Nickname  string `json:"nickname" validate:"nickname"`
	ServiceID string `json:"service" validate:"required"`
	Message   string `json:"message" validate:"max=4000"`
	Language  string `json:"language" validate:"lang"`
}

// ChatResponse carries the reply under both field names older clients read.
type ChatResponse struct {
	Reply    string `json:"reply"`
	Answer   string `json:"answer"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ChatHandler answers one chat turn per credit.
type ChatHandler struct {
	registry  catalog.Registry
	store     Entitlements
	router    ChatRouter
	validator *core.Validator
	logger    *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(registry catalog.Registry, store Entitlements, router ChatRouter, v *core.Validator, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{registry: registry, store: store, router: router, validator: v, logger: logger}
}

// RegisterLimitedRoutes mounts the chat aliases.
func (h *ChatHandler) RegisterLimitedRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
	r.Post("/assistant-stream-message", h.Chat)
	r.Post("/api/message", h.Chat)
}

// Chat handles one turn. The request is validated and the service resolved
// before a credit is consumed, so malformed requests cost nothing. Provider
// failures still return 200 with the apology and an error field.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	in := chatInput{
		Nickname:  firstNonEmpty(req.Nickname, req.Apodo),
		ServiceID: firstNonEmpty(req.Service, req.ServiceID),
		Message:   firstNonEmpty(req.Message, req.Mensaje),
		Language:  firstNonEmpty(req.Language, req.Lang),
	}
	if err := h.validator.ValidateStruct(in); err != nil {
		core.Error(w, r, err)
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, prompt.MissingInfoMessage, nil))
		return
	}
	if _, ok := h.registry.Get(in.ServiceID); !ok {
		core.Error(w, r, types.InvalidServiceError(in.ServiceID))
		return
	}

	ok, err := h.store.ConsumeCredit(r.Context(), in.Nickname, in.ServiceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ok {
		core.Error(w, r, types.AccessDeniedError("no credits left for this service"))
		return
	}

	reply, err := h.router.RouteAs(r.Context(), in.Nickname, in.ServiceID, in.Message, in.Language)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if reply.Failed() {
		h.logger.WarnContext(r.Context(), "chat degraded to apology",
			"nickname", in.Nickname,
			"service_id", in.ServiceID,
		)
	}

	core.JSON(w, r, http.StatusOK, ChatResponse{
		Reply:    reply.Text,
		Answer:   reply.Text,
		Provider: reply.Provider,
		Error:    reply.Err,
	})
}
