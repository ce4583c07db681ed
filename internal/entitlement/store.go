// Package entitlement tracks how many uses of each service a nickname has
// left. Credits earned by payment and by access code share one counter.
package entitlement

import (
	"context"
	"strings"

	"mayroga/internal/types"
)

// Store is the entitlement persistence contract. Implementations must keep
// read-then-write sequences atomic so concurrent consumes never overdraw.
type Store interface {
	// GetCredits returns the remaining credits, or 0 when the nickname or
	// service has no record.
	GetCredits(ctx context.Context, nickname, serviceID string) (int, error)

	// GrantCredits adds amount to the counter, creating the record if absent.
	// token is the external idempotency key; a token seen before leaves the
	// store unchanged and returns applied=false.
	GrantCredits(ctx context.Context, nickname, serviceID string, amount int, token string) (applied bool, err error)

	// ConsumeCredit decrements the counter by one. It returns false without
	// mutating anything when no credit is left.
	ConsumeCredit(ctx context.Context, nickname, serviceID string) (bool, error)

	// Balances returns every non-empty counter for the nickname.
	Balances(ctx context.Context, nickname string) (map[string]int, error)
}

// Idempotency token prefixes.
const (
	paymentTokenPrefix = "stripe:"
	codeTokenPrefix    = "code:"
)

// PaymentToken returns the grant token for a checkout session.
func PaymentToken(sessionID string) string {
	return paymentTokenPrefix + sessionID
}

// CodeToken returns the grant token for one service of a code redemption.
// The nonce is chosen by the client, so the token is scoped to the nickname.
func CodeToken(nickname, nonce, serviceID string) string {
	return codeTokenPrefix + nickname + ":" + nonce + ":" + serviceID
}

// SourceOf reports the grant source encoded in token.
func SourceOf(token string) types.GrantSource {
	if strings.HasPrefix(token, codeTokenPrefix) {
		return types.GrantSourceCode
	}
	return types.GrantSourcePayment
}

// NormalizeNickname trims surrounding whitespace and validates the result
// with types.CheckNickname. Nicknames are case-sensitive.
func NormalizeNickname(nickname string) (string, error) {
	n, problem := types.CheckNickname(nickname)
	if problem != "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidNickname, problem, nil)
	}
	return n, nil
}

func validateKey(nickname, serviceID string) (string, error) {
	n, err := NormalizeNickname(nickname)
	if err != nil {
		return "", err
	}
	if serviceID == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "service_id is required", nil)
	}
	return n, nil
}

func validateGrant(nickname, serviceID string, amount int, token string) (string, error) {
	n, err := validateKey(nickname, serviceID)
	if err != nil {
		return "", err
	}
	if amount <= 0 {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAmount, "grant amount must be positive", nil)
	}
	if strings.TrimSpace(token) == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidToken, "grant requires an idempotency token", nil)
	}
	return n, nil
}
