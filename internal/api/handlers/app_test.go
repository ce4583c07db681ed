package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mayroga/internal/catalog"
	"mayroga/internal/config"
	"mayroga/internal/core"
	"mayroga/internal/entitlement"
	"mayroga/internal/external"
	"mayroga/internal/gate"
	"mayroga/internal/payment"
	"mayroga/internal/prompt"
	"mayroga/internal/stream"
	"mayroga/internal/ticket"
	"mayroga/internal/types"
)

const (
	testAccessCode    = "MKM991775"
	testWebhookSecret = "whsec_test_secret"
	testTicketKey     = "0123456789abcdef0123456789abcdef"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChat is a ChatProvider with a canned reply or error.
type fakeChat struct {
	name  string
	reply string
	err   error
}

func (f *fakeChat) Name() string { return f.name }

func (f *fakeChat) Complete(_ context.Context, req external.ChatRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply + ": " + req.Message, nil
}

// testApp wires the real domain services over an in-memory store, the stub
// payment provider and fake chat providers, behind the full middleware chain.
type testApp struct {
	store    *entitlement.MemoryStore
	payments *external.StubPaymentProvider
	chat     map[string]external.ChatProvider
	issuer   *ticket.Issuer
	server   *core.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := discardLogger()

	cfg := &config.Config{Environment: "local"}
	cfg.Server.BaseURL = "https://mayroga.test"
	cfg.Server.RequestTimeout = 5 * time.Second

	registry := catalog.NewDefaultRegistry()
	store := entitlement.NewMemoryStore()
	payments := external.NewStubPaymentProvider(logger)

	g, err := gate.New(store, registry, config.AccessConfig{Code: testAccessCode, Bonus: 10}, logger)
	require.NoError(t, err)
	issuer, err := ticket.NewIssuer(testTicketKey, time.Hour)
	require.NoError(t, err)

	chat := map[string]external.ChatProvider{
		catalog.ProviderOpenAI: &fakeChat{name: catalog.ProviderOpenAI, reply: "openai"},
		catalog.ProviderGemini: &fakeChat{name: catalog.ProviderGemini, reply: "gemini"},
	}
	router := prompt.NewRouter(registry, chat, logger)
	emitter := stream.NewEmitter(registry, router, logger, stream.WithWait(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
	pay := payment.NewService(registry, payments, store, payment.Config{BaseURL: cfg.Server.BaseURL, Currency: "usd"}, logger)

	srv, err := core.NewServer(cfg, logger)
	require.NoError(t, err)

	catalogH := NewCatalogHandler(registry, store, "pk_test_123")
	accessH := NewAccessHandler(g, issuer, srv.Validator, logger)
	checkoutH := NewCheckoutHandler(pay, srv.Validator, logger)
	webhookH := NewWebhookHandler(external.StripeVerifier{}, pay, testWebhookSecret, logger)
	chatH := NewChatHandler(registry, store, router, srv.Validator, logger)
	streamH := NewStreamHandler(emitter, store, g, issuer, logger)

	srv.Routes = core.Routes{
		JSON:    []core.RouteRegistrar{catalogH.RegisterRoutes, checkoutH.RegisterRoutes, webhookH.RegisterRoutes},
		Limited: []core.RouteRegistrar{accessH.RegisterLimitedRoutes, checkoutH.RegisterLimitedRoutes, chatH.RegisterLimitedRoutes},
		Stream:  []core.RouteRegistrar{streamH.RegisterStreamRoutes},
	}
	srv.MountRoutes()

	return &testApp{store: store, payments: payments, chat: chat, issuer: issuer, server: srv}
}

func (a *testApp) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (a *testApp) credits(t *testing.T, nickname, serviceID string) int {
	t.Helper()
	n, err := a.store.GetCredits(context.Background(), nickname, serviceID)
	require.NoError(t, err)
	return n
}

func (a *testApp) grant(t *testing.T, nickname, serviceID string, amount int) {
	t.Helper()
	_, err := a.store.GrantCredits(context.Background(), nickname, serviceID, amount, "test:"+nickname+":"+serviceID)
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorCode {
	t.Helper()
	return types.ErrorCode(decode[core.APIErrorResponse](t, rec).Error.Code)
}

// sseEvents parses "data: <json>" frames from an SSE body.
func sseEvents(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		require.True(t, ok, "unexpected SSE line %q", line)
		var evt stream.Event
		require.NoError(t, json.Unmarshal([]byte(data), &evt))
		events = append(events, evt)
	}
	return events
}

var errProviderDown = errors.New("provider down")
