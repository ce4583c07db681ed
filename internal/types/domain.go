package types

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNicknameLen bounds nicknames, counted in runes.
const MaxNicknameLen = 64

// CheckNickname trims nickname and returns it with the reason it is
// unusable, or an empty reason when it is valid. A valid nickname is
// non-empty, at most MaxNicknameLen runes and free of control characters.
// Case is preserved.
func CheckNickname(nickname string) (trimmed, problem string) {
	n := strings.TrimSpace(nickname)
	switch {
	case n == "":
		return n, "nickname is required"
	case utf8.RuneCountInString(n) > MaxNicknameLen:
		return n, "nickname is too long"
	case strings.ContainsFunc(n, unicode.IsControl):
		return n, "nickname contains control characters"
	}
	return n, ""
}

// GrantSource records how a credit grant was earned. The Prompt Router never
// sees it; balances from both sources are added to the same counter.
type GrantSource string

const (
	GrantSourcePayment GrantSource = "payment"
	GrantSourceCode    GrantSource = "code"
)

// GrantEvent is emitted after a grant is applied to the entitlement store.
// Replayed tokens never produce an event.
type GrantEvent struct {
	ID         string      `json:"id"`
	Nickname   string      `json:"nickname"`
	ServiceID  string      `json:"service_id"`
	Amount     int         `json:"amount"`
	Source     GrantSource `json:"source"`
	Token      string      `json:"token"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// ChatExchange is one routed message and its reply, recorded for audit only.
// Recorded exchanges are never fed back into prompts.
type ChatExchange struct {
	Nickname  string    `json:"nickname"`
	ServiceID string    `json:"service_id"`
	Language  string    `json:"language"`
	Provider  string    `json:"provider"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Failed    bool      `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}
