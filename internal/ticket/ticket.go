// Package ticket issues and verifies short-lived unlock tickets. A ticket is
// an HS256 JWT handed out after a code redemption so EventSource clients can
// open a stream without putting the secret code in a URL.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mayroga/internal/types"
)

// Scope is the only scope tickets are issued for.
const Scope = "unlock"

const issuer = "mayroga"

// MinKeyLength is the shortest signing key accepted.
const MinKeyLength = 32

// Claims are the registered claims plus the ticket scope.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tickets with a shared key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an Issuer, or nil when key is empty so callers can treat
// tickets as disabled.
func NewIssuer(key string, ttl time.Duration) (*Issuer, error) {
	if key == "" {
		return nil, nil
	}
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("ticket: signing key must be at least %d characters", MinKeyLength)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Issuer{key: []byte(key), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed ticket for nickname and its expiry.
func (i *Issuer) Issue(nickname string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope: Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nickname,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ticket: signing: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw and returns the nickname it was issued to. Only HMAC
// signatures are accepted.
func (i *Issuer) Verify(raw string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", types.NewAppError(types.ErrCodeAuthTicketExpired, "unlock ticket has expired", err)
		}
		return "", types.NewAppError(types.ErrCodeAuthTicketInvalid, "invalid unlock ticket", err)
	}
	if claims.Scope != Scope || claims.Subject == "" {
		return "", types.NewAppError(types.ErrCodeAuthTicketInvalid, "invalid unlock ticket", nil)
	}
	return claims.Subject, nil
}
