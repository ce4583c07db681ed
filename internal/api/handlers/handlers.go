// Package handlers contains the HTTP handlers of the May Roga API.
//
// Each handler declares the narrow service contract it needs and receives the
// implementation through its constructor. Routes are grouped by the
// middleware they need (see core.Routes): RegisterRoutes mounts plain JSON
// routes, RegisterLimitedRoutes mounts rate-limited ones and
// RegisterStreamRoutes mounts the SSE endpoint.
//
// Several endpoints are reachable under more than one path and accept more
// than one spelling of a field (nickname or apodo, code or secret) so older
// web clients keep working.
package handlers

import (
	"context"
	"strings"
)

// Entitlements is the subset of the entitlement store handlers use.
type Entitlements interface {
	GetCredits(ctx context.Context, nickname, serviceID string) (int, error)
	ConsumeCredit(ctx context.Context, nickname, serviceID string) (bool, error)
	Balances(ctx context.Context, nickname string) (map[string]int, error)
}

// idempotencyHeader carries the client-chosen redemption token.
const idempotencyHeader = "Idempotency-Key"

// firstNonEmpty returns the first value that is not blank after trimming.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
