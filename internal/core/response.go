package core

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mayroga/internal/types"
)

// maxRequestBodySize bounds JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// APIErrorResponse is the envelope for every error response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

func internalDetail(r *http.Request, message string) ErrorDetail {
	return ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   message,
		RequestID: types.GetRequestID(r.Context()),
	}
}

// JSON writes data with status. A value that cannot be marshalled becomes a
// 500 envelope instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(r.Context(), "response marshal failed", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(APIErrorResponse{Error: internalDetail(r, "failed to marshal response")})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders err as the error envelope. The first *types.AppError in the
// chain supplies code, message, details and status; anything else is a
// generic 500. Wrapped causes never reach the client. Server-side failures
// are logged with their cause.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := internalDetail(r, "an unexpected error occurred")
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", detail.RequestID,
			"code", detail.Code,
			"status", status,
			"error", err,
		)
	}

	JSON(w, r, status, APIErrorResponse{Error: detail})
}

// DecodeJSON decodes exactly one JSON value from the body into dst. Unknown
// fields, trailing values, empty bodies and bodies over 1 MB are rejected
// with validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidJSON(message string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidJSON, message, err)
}

// decodeError classifies a json.Decoder failure.
func decodeError(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON("request body must not exceed 1MB", err)
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("malformed JSON in request body", err)
	case errors.As(err, &mismatch):
		return invalidJSON("invalid value for field", err).WithDetails(map[string]any{
			"field":    mismatch.Field,
			"expected": mismatch.Type.String(),
		})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err)
	}

	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalidJSON("unknown field in request body: "+field, err)
	}
	return invalidJSON("invalid JSON in request body", err)
}
