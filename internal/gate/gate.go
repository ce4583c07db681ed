// Package gate redeems the shared secret access code. A matching code grants
// a fixed bonus of credits to every catalog service for the caller's
// nickname.
package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mayroga/internal/catalog"
	"mayroga/internal/config"
	"mayroga/internal/entitlement"
	"mayroga/internal/types"
)

// GrantResult is the outcome of a redemption. Credits holds the caller's
// balances after the grant and is nil when the code was denied.
type GrantResult struct {
	Granted bool           `json:"success"`
	Credits map[string]int `json:"credits,omitempty"`
}

// Gate checks submitted codes against one server-held secret.
type Gate struct {
	store    entitlement.Store
	registry catalog.Registry
	code     []byte
	hash     []byte
	bonus    int
	logger   *slog.Logger
	newNonce func() string
}

// New creates a Gate. A bcrypt CodeHash takes precedence over the plaintext
// Code. With neither set every code is denied.
func New(store entitlement.Store, registry catalog.Registry, cfg config.AccessConfig, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		store:    store,
		registry: registry,
		bonus:    cfg.Bonus,
		logger:   logger,
		newNonce: uuid.NewString,
	}
	if g.bonus <= 0 {
		g.bonus = 10
	}

	switch {
	case cfg.CodeHash.IsSet():
		hash := []byte(cfg.CodeHash.Unmask())
		if _, err := bcrypt.Cost(hash); err != nil {
			return nil, errors.New("gate: MAYROGA_ACCESS_CODE_HASH is not a bcrypt hash")
		}
		g.hash = hash
	case cfg.Code.IsSet():
		g.code = []byte(cfg.Code.Unmask())
	default:
		logger.Warn("no access code configured; code redemption is disabled")
	}
	return g, nil
}

// Enabled reports whether a secret is configured.
func (g *Gate) Enabled() bool {
	return len(g.hash) > 0 || len(g.code) > 0
}

// Match reports whether submitted equals the configured secret. It does not
// touch the store.
func (g *Gate) Match(submitted string) bool {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return false
	}
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(submitted)) == nil
	}
	if len(g.code) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(g.code, []byte(submitted)) == 1
}

// CheckCode redeems submitted for nickname. On a match the bonus is granted
// to every catalog service with the token code:<nickname>:<token>:<service_id>,
// so the same nickname and token redeemed twice adds nothing the second time.
// An empty token is replaced with a fresh nonce. A mismatch returns Granted=false and leaves
// the store untouched.
//
// If a grant fails midway the error is returned; retrying with the same
// token completes the remaining services without double-crediting.
func (g *Gate) CheckCode(ctx context.Context, nickname, submitted, token string) (GrantResult, error) {
	n, err := entitlement.NormalizeNickname(nickname)
	if err != nil {
		return GrantResult{}, err
	}
	if !g.Match(submitted) {
		g.logger.InfoContext(ctx, "access code denied", "nickname", n)
		return GrantResult{Granted: false}, nil
	}

	if strings.TrimSpace(token) == "" {
		token = g.newNonce()
	}

	applied := 0
	for _, serviceID := range g.registry.IDs() {
		ok, err := g.store.GrantCredits(ctx, n, serviceID, g.bonus, entitlement.CodeToken(n, token, serviceID))
		if err != nil {
			return GrantResult{}, err
		}
		if ok {
			applied++
		}
	}
	g.logger.InfoContext(ctx, "access code redeemed",
		"nickname", n,
		"bonus", g.bonus,
		"services_credited", applied,
	)

	credits, err := g.store.Balances(ctx, n)
	if err != nil {
		return GrantResult{}, err
	}
	return GrantResult{Granted: true, Credits: credits}, nil
}

// Redeem is CheckCode for callers that only need a yes or no. A denied code
// is reported as permission_access_denied.
func (g *Gate) Redeem(ctx context.Context, nickname, submitted, token string) error {
	res, err := g.CheckCode(ctx, nickname, submitted, token)
	if err != nil {
		return err
	}
	if !res.Granted {
		return types.AccessDeniedError("invalid access code")
	}
	return nil
}
