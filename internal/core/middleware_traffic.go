package core

import (
	"net/http"
	"strconv"
	"time"

	"mayroga/internal/types"
)

// RateLimit enforces the per-client token bucket. The key is the client IP
// stored by ClientIPMiddleware.
//
// Every checked response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A rejected request gets 429 with Retry-After.
//
// Without a store, or when the store fails, requests pass through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := types.GetClientIP(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				"client_ip", key,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				"client_ip", key,
				"method", r.Method,
				"path", r.URL.Path,
			)

			retryAfter := int(time.Until(result.RetryAt).Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			Error(w, r, types.NewAppError(types.ErrCodeRateLimit,
				"Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
