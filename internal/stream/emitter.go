// Package stream paces a guided session as a finite sequence of events. The
// gap between steps is the service duration divided by the step count, so a
// full session lasts roughly as long as the catalog says it should.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"mayroga/internal/catalog"
	"mayroga/internal/prompt"
)

// EventType discriminates stream events.
type EventType string

const (
	EventText   EventType = "text"
	EventAudio  EventType = "audio"
	EventDenied EventType = "denied"
	EventEnd    EventType = "end"
)

// Event is one server-sent event payload.
type Event struct {
	Type     EventType `json:"type"`
	Step     int       `json:"step,omitempty"`
	Total    int       `json:"total,omitempty"`
	Text     string    `json:"text,omitempty"`
	AudioURL string    `json:"audio_url,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Request identifies the session to stream.
type Request struct {
	Nickname  string
	ServiceID string
	Language  string
}

// AccessFunc authorizes a stream. It runs once, when iteration starts, and
// may consume a credit.
type AccessFunc func(ctx context.Context) error

// Replier generates text for prompt steps.
type Replier interface {
	RouteAs(ctx context.Context, nickname, serviceID, message, language string) (prompt.Reply, error)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Emitter builds session streams.
type Emitter struct {
	registry catalog.Registry
	replier  Replier
	wait     WaitFunc
	logger   *slog.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithWait replaces the pacing function.
func WithWait(w WaitFunc) Option {
	return func(e *Emitter) { e.wait = w }
}

// NewEmitter creates an Emitter.
func NewEmitter(registry catalog.Registry, replier Replier, logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{registry: registry, replier: replier, wait: Sleep, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sessionSteps returns the scripted steps, or a single generated opener for
// services without a script.
func sessionSteps(svc catalog.Service) []catalog.Step {
	if len(svc.Steps) > 0 {
		return svc.Steps
	}
	return []catalog.Step{{
		Prompt: "Comienza la sesión de " + svc.Name + " con un saludo breve y una primera recomendación.",
	}}
}

// Stream returns a one-shot sequence for req. If access fails the sequence
// is a single denied event. Otherwise it yields text and audio events for
// every step, pacing between steps, then an end event. Cancellation of ctx
// is honored between events and while waiting.
func (e *Emitter) Stream(ctx context.Context, req Request, access AccessFunc) iter.Seq[Event] {
	var started atomic.Bool

	return func(yield func(Event) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}

		svc, ok := e.registry.Get(req.ServiceID)
		if !ok {
			yield(Event{Type: EventDenied, Message: "unknown service"})
			return
		}
		if access != nil {
			if err := access(ctx); err != nil {
				e.logger.InfoContext(ctx, "stream denied",
					"nickname", req.Nickname,
					"service_id", svc.ID,
					"error", err,
				)
				yield(Event{Type: EventDenied, Message: "access denied"})
				return
			}
		}

		steps := sessionSteps(svc)
		gap := time.Duration(0)
		if svc.Duration > 0 {
			gap = svc.Duration / time.Duration(len(steps))
		}
		e.logger.InfoContext(ctx, "stream started",
			"nickname", req.Nickname,
			"service_id", svc.ID,
			"steps", len(steps),
			"gap", gap.String(),
		)

		for i, step := range steps {
			if ctx.Err() != nil {
				return
			}
			for _, evt := range e.render(ctx, req, svc, step, i+1, len(steps)) {
				if ctx.Err() != nil || !yield(evt) {
					return
				}
			}
			if err := e.wait(ctx, gap); err != nil {
				e.logger.InfoContext(ctx, "stream cancelled", "service_id", svc.ID, "step", i+1)
				return
			}
		}

		if ctx.Err() == nil {
			yield(Event{Type: EventEnd, Total: len(steps)})
		}
	}
}

// render produces the events for one step: its text, then its audio.
func (e *Emitter) render(ctx context.Context, req Request, svc catalog.Service, step catalog.Step, n, total int) []Event {
	var out []Event

	switch {
	case step.Text != "":
		out = append(out, Event{Type: EventText, Step: n, Total: total, Text: step.Text})
	case step.Prompt != "":
		reply, err := e.replier.RouteAs(ctx, req.Nickname, svc.ID, step.Prompt, req.Language)
		if err != nil {
			e.logger.WarnContext(ctx, "prompt step failed", "service_id", svc.ID, "step", n, "error", err)
			break
		}
		out = append(out, Event{Type: EventText, Step: n, Total: total, Text: reply.Text, Provider: reply.Provider})
	}

	if step.AudioURL != "" {
		out = append(out, Event{Type: EventAudio, Step: n, Total: total, AudioURL: step.AudioURL})
	}
	return out
}
