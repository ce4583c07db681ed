package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mayroga/internal/stream"
)

func (a *testApp) stream(t *testing.T, params url.Values) ([]stream.Event, *http.Response) {
	t.Helper()
	rec := a.do(t, http.MethodGet, "/assistant-stream?"+params.Encode(), nil)
	return sseEvents(t, rec.Body.String()), rec.Result()
}

func TestStream_WithCredit(t *testing.T) {
	app := newTestApp(t)
	app.grant(t, "ana", "risoterapia", 1)

	events, resp := app.stream(t, url.Values{"nickname": {"ana"}, "service": {"risoterapia"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))

	require.Len(t, events, 6)
	assert.Equal(t, stream.Event{
		Type:  stream.EventText,
		Step:  1,
		Total: 5,
		Text:  "Bienvenido a tu sesión de risoterapia. Respira hondo y suelta los hombros.",
	}, events[0])
	assert.Equal(t, "gemini", events[1].Provider)
	assert.True(t, strings.HasPrefix(events[1].Text, "gemini: "))
	assert.Equal(t, stream.Event{Type: stream.EventEnd, Total: 5}, events[5])

	assert.Equal(t, 0, app.credits(t, "ana", "risoterapia"))
}

func TestStream_NoCreditIsDenied(t *testing.T) {
	app := newTestApp(t)

	events, resp := app.stream(t, url.Values{"apodo": {"ana"}, "service_id": {"risoterapia"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventDenied, events[0].Type)
}

func TestStream_UnknownServiceIsDenied(t *testing.T) {
	app := newTestApp(t)
	app.grant(t, "ana", "risoterapia", 1)

	events, _ := app.stream(t, url.Values{"nickname": {"ana"}, "service": {"tarot"}})
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventDenied, events[0].Type)
	assert.Equal(t, 1, app.credits(t, "ana", "risoterapia"))
}

func TestStream_TicketSkipsCredit(t *testing.T) {
	app := newTestApp(t)
	tok, _, err := app.issuer.Issue("ana")
	require.NoError(t, err)

	t.Run("nickname taken from ticket", func(t *testing.T) {
		events, _ := app.stream(t, url.Values{"service": {"medico"}, "ticket": {tok}})
		require.Len(t, events, 2)
		assert.Equal(t, stream.EventText, events[0].Type)
		assert.Equal(t, stream.EventEnd, events[1].Type)
	})

	t.Run("ticket for someone else", func(t *testing.T) {
		events, _ := app.stream(t, url.Values{"nickname": {"bob"}, "service": {"medico"}, "ticket": {tok}})
		require.Len(t, events, 1)
		assert.Equal(t, stream.EventDenied, events[0].Type)
	})

	t.Run("garbage ticket", func(t *testing.T) {
		events, _ := app.stream(t, url.Values{"nickname": {"ana"}, "service": {"medico"}, "ticket": {"not-a-jwt"}})
		require.Len(t, events, 1)
		assert.Equal(t, stream.EventDenied, events[0].Type)
	})
}

func TestStream_SecretSkipsCredit(t *testing.T) {
	app := newTestApp(t)

	events, _ := app.stream(t, url.Values{"nickname": {"ana"}, "service": {"horoscopo"}, "secret": {testAccessCode}})
	require.Len(t, events, 2)
	assert.Equal(t, stream.EventEnd, events[1].Type)

	events, _ = app.stream(t, url.Values{"nickname": {"ana"}, "service": {"horoscopo"}, "code": {"WRONG"}})
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventDenied, events[0].Type)
}

func TestStream_Framing(t *testing.T) {
	app := newTestApp(t)
	app.grant(t, "ana", "respuesta_rapida", 1)

	rec := app.do(t, http.MethodGet, "/assistant-stream?nickname=ana&service=respuesta_rapida", nil)
	body := rec.Body.String()

	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.True(t, strings.HasPrefix(f, "data: {"), f)
		assert.NotContains(t, f, "\n")
	}
}
