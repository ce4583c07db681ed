// Package prompt routes chat messages to an LLM provider. Each service names
// its providers in preference order; the router falls through the list and
// degrades to an apologetic reply when every provider fails.
package prompt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mayroga/internal/catalog"
	"mayroga/internal/external"
	"mayroga/internal/types"
)

// Supported reply languages.
const (
	LangES = "es"
	LangEN = "en"
)

// MissingInfoMessage is returned for empty user messages.
const MissingInfoMessage = "Falta información para procesar tu solicitud."

var languageInstructions = map[string]string{
	LangES: "Responde siempre en español.",
	LangEN: "Always answer in English.",
}

var apologies = map[string]string{
	LangES: "Lo siento, en este momento no puedo responder. Inténtalo de nuevo en unos minutos.",
	LangEN: "Sorry, I can't answer right now. Please try again in a few minutes.",
}

// Reply is the router's answer. Err is set, and Provider empty, when every
// provider failed and Text is the apology.
type Reply struct {
	Text     string `json:"reply"`
	Provider string `json:"provider"`
	Err      string `json:"error,omitempty"`
}

// Failed reports whether Text is the fallback apology.
func (r Reply) Failed() bool { return r.Err != "" }

// HistoryRecorder stores routed exchanges. It is write-only.
type HistoryRecorder interface {
	RecordExchange(ctx context.Context, ex types.ChatExchange) error
}

// Router selects the system prompt for a service and calls its providers.
type Router struct {
	registry  catalog.Registry
	providers map[string]external.ChatProvider
	history   HistoryRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithHistory records every exchange through h.
func WithHistory(h HistoryRecorder) Option {
	return func(r *Router) { r.history = h }
}

// NewRouter creates a Router over the named providers.
func NewRouter(registry catalog.Registry, providers map[string]external.ChatProvider, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry:  registry,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeLanguage maps anything other than "en" to the Spanish default.
func NormalizeLanguage(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), LangEN) {
		return LangEN
	}
	return LangES
}

// SystemPrompt renders the service prompt with the language instruction.
func SystemPrompt(svc catalog.Service, lang string) string {
	return strings.TrimSpace(svc.Prompt) + "\n\n" + languageInstructions[NormalizeLanguage(lang)]
}

// Route answers message for serviceID. Provider failures never surface as
// errors; only an unknown service or an empty message does.
func (r *Router) Route(ctx context.Context, serviceID, message, language string) (Reply, error) {
	return r.RouteAs(ctx, "", serviceID, message, language)
}

// RouteAs is Route with the caller's nickname attached to the recorded
// exchange.
func (r *Router) RouteAs(ctx context.Context, nickname, serviceID, message, language string) (Reply, error) {
	svc, ok := r.registry.Get(serviceID)
	if !ok {
		return Reply{}, types.InvalidServiceError(serviceID)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, types.NewAppError(types.ErrCodeValidationMissingField, MissingInfoMessage, nil)
	}
	lang := NormalizeLanguage(language)

	req := external.ChatRequest{System: SystemPrompt(svc, lang), Message: message}
	reply := r.try(ctx, svc, req, lang)
	r.record(ctx, types.ChatExchange{
		Nickname:  nickname,
		ServiceID: svc.ID,
		Language:  lang,
		Provider:  reply.Provider,
		Message:   message,
		Reply:     reply.Text,
		Failed:    reply.Failed(),
		CreatedAt: r.now().UTC(),
	})
	return reply, nil
}

func (r *Router) try(ctx context.Context, svc catalog.Service, req external.ChatRequest, lang string) Reply {
	for _, name := range svc.Providers {
		provider, ok := r.providers[name]
		if !ok {
			r.logger.DebugContext(ctx, "provider not configured", "provider", name, "service_id", svc.ID)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		start := r.now()
		text, err := provider.Complete(ctx, req)
		if err != nil {
			r.logger.WarnContext(ctx, "provider failed, trying next",
				"provider", name,
				"service_id", svc.ID,
				"error", err,
			)
			continue
		}
		r.logger.InfoContext(ctx, "chat reply generated",
			"provider", name,
			"service_id", svc.ID,
			"duration_ms", r.now().Sub(start).Milliseconds(),
		)
		return Reply{Text: text, Provider: name}
	}

	r.logger.ErrorContext(ctx, "all providers failed", "service_id", svc.ID, "providers", svc.Providers)
	return Reply{Text: apologies[lang], Err: string(types.ErrCodeUpstreamLLM)}
}

func (r *Router) record(ctx context.Context, ex types.ChatExchange) {
	if r.history == nil {
		return
	}
	if err := r.history.RecordExchange(ctx, ex); err != nil {
		r.logger.WarnContext(ctx, "failed to record chat exchange", "service_id", ex.ServiceID, "error", err)
	}
}
