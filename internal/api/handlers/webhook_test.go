package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mayroga/internal/catalog"
	"mayroga/internal/entitlement"
	"mayroga/internal/external"
	"mayroga/internal/payment"
	"mayroga/internal/types"
)

// signPayload builds a Stripe-Signature header for payload at ts.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func completedEvent(sessionID, nickname, serviceID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%[1]s",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": %[1]q,
				"object": "checkout.session",
				"payment_status": %[4]q,
				"client_reference_id": %[2]q,
				"metadata": {"nickname": %[2]q, "service_id": %[3]q}
			}
		}
	}`, sessionID, nickname, serviceID, status))
}

func (a *testApp) webhook(t *testing.T, path string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, path, payload, "Stripe-Signature", signature)
}

func TestWebhook_CompletedGrantsOnce(t *testing.T) {
	app := newTestApp(t)
	payload := completedEvent("cs_test_1", "ana", "risoterapia", "paid")
	sig := signPayload(payload, testWebhookSecret, time.Now())

	rec := app.webhook(t, "/webhook", payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, 1, app.credits(t, "ana", "risoterapia"))

	// Stripe redelivers; the other aliases serve the same handler.
	for _, path := range []string{"/stripe-webhook", "/webhook-stripe"} {
		rec = app.webhook(t, path, payload, sig)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, 1, app.credits(t, "ana", "risoterapia"))

	chat := map[string]string{"message": "hola", "service": "risoterapia", "nickname": "ana"}
	rec = app.do(t, http.MethodPost, "/chat", chat)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, app.credits(t, "ana", "risoterapia"))

	rec = app.do(t, http.MethodPost, "/chat", chat)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook_UnpaidAndUnrelatedAreAcknowledged(t *testing.T) {
	app := newTestApp(t)

	unpaid := completedEvent("cs_test_2", "ana", "medico", "unpaid")
	rec := app.webhook(t, "/webhook", unpaid, signPayload(unpaid, testWebhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, app.credits(t, "ana", "medico"))

	other := []byte(`{"id":"evt_x","object":"event","type":"invoice.paid","data":{"object":{"object":"invoice"}}}`)
	rec = app.webhook(t, "/webhook", other, signPayload(other, testWebhookSecret, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_BadSignature(t *testing.T) {
	app := newTestApp(t)
	payload := completedEvent("cs_test_1", "ana", "risoterapia", "paid")

	tests := []struct {
		name string
		sig  string
	}{
		{"missing header", ""},
		{"wrong secret", signPayload(payload, "whsec_other", time.Now())},
		{"stale timestamp", signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.webhook(t, "/webhook", payload, tt.sig)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, types.ErrCodeValidationInvalidSignature, errorCode(t, rec))
		})
	}
	assert.Equal(t, 0, app.credits(t, "ana", "risoterapia"))
}

func TestWebhook_UnknownServiceIsAcknowledged(t *testing.T) {
	app := newTestApp(t)
	payload := completedEvent("cs_test_3", "ana", "tarot", "paid")

	rec := app.webhook(t, "/webhook", payload, signPayload(payload, testWebhookSecret, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// failingStore fails every grant.
type failingStore struct {
	entitlement.Store
}

func (failingStore) GrantCredits(context.Context, string, string, int, string) (bool, error) {
	return false, types.NewAppError(types.ErrCodeInternalStore, "store unavailable", errors.New("disk full"))
}

func TestWebhook_StoreFailureAsksForRetry(t *testing.T) {
	registry := catalog.NewDefaultRegistry()
	store := failingStore{Store: entitlement.NewMemoryStore()}
	pay := payment.NewService(registry, external.NewStubPaymentProvider(discardLogger()), store, payment.Config{BaseURL: "https://mayroga.test"}, discardLogger())
	h := NewWebhookHandler(external.StripeVerifier{}, pay, testWebhookSecret, discardLogger())

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	payload := completedEvent("cs_test_4", "ana", "risoterapia", "paid")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signPayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, types.ErrCodeInternalStore, errorCode(t, rec))
}
