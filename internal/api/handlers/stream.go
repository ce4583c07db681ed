package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/entitlement"
	"mayroga/internal/stream"
	"mayroga/internal/types"
)

// SessionStreamer builds the event sequence for a guided session.
type SessionStreamer interface {
	Stream(ctx context.Context, req stream.Request, access stream.AccessFunc) iter.Seq[stream.Event]
}

// CodeMatcher checks the shared access code without redeeming it.
type CodeMatcher interface {
	Match(submitted string) bool
}

// TicketVerifier resolves an unlock ticket to its nickname.
type TicketVerifier interface {
	Verify(raw string) (string, error)
}

// StreamHandler serves GET /assistant-stream as server-sent events.
type StreamHandler struct {
	streamer SessionStreamer
	store    Entitlements
	codes    CodeMatcher
	tickets  TicketVerifier
	logger   *slog.Logger
}

// NewStreamHandler creates a StreamHandler. tickets may be nil when unlock
// tickets are disabled.
func NewStreamHandler(streamer SessionStreamer, store Entitlements, codes CodeMatcher, tickets TicketVerifier, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{streamer: streamer, store: store, codes: codes, tickets: tickets, logger: logger}
}

// RegisterStreamRoutes mounts the SSE endpoint.
func (h *StreamHandler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/assistant-stream", h.Stream)
}

// Stream handles GET /assistant-stream?service=&nickname=&ticket=|secret=.
//
// Access is granted by a valid unlock ticket for the nickname, by the
// current access code, or by consuming one credit for the service. The
// check runs when the stream starts; a refusal is delivered as a single
// denied event so EventSource clients can show it.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := stream.Request{
		Nickname:  firstNonEmpty(q.Get("nickname"), q.Get("apodo")),
		ServiceID: firstNonEmpty(q.Get("service"), q.Get("service_id")),
		Language:  firstNonEmpty(q.Get("language"), q.Get("lang")),
	}
	ticketParam := q.Get("ticket")
	secret := firstNonEmpty(q.Get("secret"), q.Get("code"))

	if req.Nickname == "" && ticketParam != "" && h.tickets != nil {
		if nick, err := h.tickets.Verify(ticketParam); err == nil {
			req.Nickname = nick
		}
	}

	access := func(ctx context.Context) error {
		return h.authorize(ctx, req, ticketParam, secret)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	sent := 0
	for evt := range h.streamer.Stream(r.Context(), req, access) {
		if err := writeEvent(w, evt); err != nil {
			h.logger.InfoContext(r.Context(), "stream client gone", "error", err, "events_sent", sent)
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.WarnContext(r.Context(), "stream flush failed", "error", err)
			return
		}
		sent++
	}
	h.logger.DebugContext(r.Context(), "stream finished",
		"service_id", req.ServiceID,
		"events_sent", sent,
	)
}

func (h *StreamHandler) authorize(ctx context.Context, req stream.Request, ticketParam, secret string) error {
	nickname, err := entitlement.NormalizeNickname(req.Nickname)
	if err != nil {
		return err
	}

	if ticketParam != "" && h.tickets != nil {
		subject, err := h.tickets.Verify(ticketParam)
		if err == nil && subject == nickname {
			return nil
		}
		h.logger.InfoContext(ctx, "unlock ticket rejected", "nickname", nickname, "error", err)
	}
	if secret != "" && h.codes != nil && h.codes.Match(secret) {
		return nil
	}

	ok, err := h.store.ConsumeCredit(ctx, nickname, req.ServiceID)
	if err != nil {
		return err
	}
	if !ok {
		return types.AccessDeniedError("no credits left for this service")
	}
	return nil
}

// writeEvent writes one "data: <json>\n\n" frame.
func writeEvent(w http.ResponseWriter, evt stream.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}
