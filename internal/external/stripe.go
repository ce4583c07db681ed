package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"mayroga/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements PaymentProvider with form-encoded calls to the
// Stripe REST API routed through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

var _ PaymentProvider = (*StripeClient)(nil)

// NewStripeClient creates a StripeClient that never retries.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	return NewStripeClientWithBase(
		NewBaseClient(httpClient, "stripe", NoRetry(), "MayRoga/1.0"),
		cfg,
	)
}

// NewStripeClientWithBase creates a StripeClient over a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateCheckoutSession creates a one-time card payment for a single
// service. The nickname and service id travel in metadata and the nickname
// is also the client_reference_id.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", string(stripe.CheckoutSessionModePayment))
	params.Set("payment_method_types[0]", "card")
	params.Set("line_items[0][price_data][currency]", req.Currency)
	params.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	params.Set("line_items[0][price_data][product_data][name]", req.ProductName)
	params.Set("line_items[0][quantity]", "1")
	params.Set("client_reference_id", req.Nickname)
	params.Set("metadata["+MetadataNickname+"]", req.Nickname)
	params.Set("metadata["+MetadataServiceID+"]", req.ServiceID)
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return CheckoutSession{}, s.wrapStripeError(ctx, "CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckoutSession{}, s.handleErrorResponse(ctx, resp, "CreateCheckoutSession")
	}
	return decodeSession(resp.Body)
}

// RetrieveCheckoutSession reads a session back from Stripe. It is the only
// source of truth for payment_status on the success redirect.
func (s *StripeClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if sessionID == "" {
		return CheckoutSession{}, types.NewAppError(types.ErrCodeValidationMissingField, "session_id is required", nil)
	}

	resp, err := s.doGet(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return CheckoutSession{}, s.wrapStripeError(ctx, "RetrieveCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckoutSession{}, s.handleErrorResponse(ctx, resp, "RetrieveCheckoutSession")
	}
	return decodeSession(resp.Body)
}

func decodeSession(r io.Reader) (CheckoutSession, error) {
	var raw stripe.CheckoutSession
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return CheckoutSession{}, types.NewAppError(types.ErrCodePaymentProviderError,
			"payment provider returned an unreadable response", err)
	}
	return fromStripeSession(&raw), nil
}

func fromStripeSession(raw *stripe.CheckoutSession) CheckoutSession {
	return CheckoutSession{
		ID:            raw.ID,
		URL:           raw.URL,
		PaymentStatus: string(raw.PaymentStatus),
		ClientRefID:   raw.ClientReferenceID,
		Metadata:      raw.Metadata,
	}
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
//
// Client-facing messages never carry Stripe's own text. The provider message
// is logged so operators can still diagnose failures.
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(ctx context.Context, resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(types.ErrCodePaymentProviderError, "payment provider error", readErr)
	}

	var stripeErr stripeErrorResponse
	_ = json.Unmarshal(body, &stripeErr)

	s.logger.WarnContext(ctx, "stripe request failed",
		"operation", operation,
		"status", resp.StatusCode,
		"stripe_type", stripeErr.Error.Type,
		"stripe_code", stripeErr.Error.Code,
		"stripe_message", stripeErr.Error.Message,
	)
	return mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	cause := fmt.Errorf("%s: stripe status %d code %q", operation, statusCode, stripeErr.Code)

	switch {
	case stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "":
		return types.NewAppErrorWithDetails(types.ErrCodePaymentDeclined, "payment was declined", cause,
			map[string]any{"decline_code": stripeErr.DeclineCode})
	case statusCode == http.StatusNotFound || stripeErr.Code == "resource_missing":
		return types.NewAppError(types.ErrCodeNotFoundSession, "checkout session not found", cause)
	default:
		return types.NewAppError(types.ErrCodePaymentProviderError, "payment provider error", cause)
	}
}

// wrapStripeError folds BaseClient and transport failures into
// payment_provider_error while keeping the cause for logs.
func (s *StripeClient) wrapStripeError(ctx context.Context, operation string, err error) error {
	s.logger.WarnContext(ctx, "stripe transport failure", "operation", operation, "error", err)

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodePaymentProviderError {
		return err
	}
	return types.NewAppError(types.ErrCodePaymentProviderError, "payment provider unavailable",
		fmt.Errorf("%s: %w", operation, err))
}
