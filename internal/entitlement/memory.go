package entitlement

import (
	"context"
	"sync"
)

// record is one nickname's entitlement state.
type record struct {
	services map[string]int
	tokens   []string
}

// ledger is the in-memory state shared by MemoryStore and FileStore. It is
// not safe for concurrent use; callers hold a lock.
type ledger struct {
	users  map[string]*record
	tokens map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{
		users:  make(map[string]*record),
		tokens: make(map[string]struct{}),
	}
}

func (l *ledger) get(nickname, serviceID string) int {
	rec, ok := l.users[nickname]
	if !ok {
		return 0
	}
	return rec.services[serviceID]
}

func (l *ledger) grant(nickname, serviceID string, amount int, token string) bool {
	if _, seen := l.tokens[token]; seen {
		return false
	}
	rec, ok := l.users[nickname]
	if !ok {
		rec = &record{services: make(map[string]int)}
		l.users[nickname] = rec
	}
	rec.services[serviceID] += amount
	rec.tokens = append(rec.tokens, token)
	l.tokens[token] = struct{}{}
	return true
}

// revokeGrant undoes a grant applied by grant. It is used when persisting the
// mutation fails.
func (l *ledger) revokeGrant(nickname, serviceID string, amount int, token string) {
	rec := l.users[nickname]
	rec.services[serviceID] -= amount
	if rec.services[serviceID] <= 0 {
		delete(rec.services, serviceID)
	}
	rec.tokens = rec.tokens[:len(rec.tokens)-1]
	delete(l.tokens, token)
}

func (l *ledger) consume(nickname, serviceID string) bool {
	rec, ok := l.users[nickname]
	if !ok || rec.services[serviceID] <= 0 {
		return false
	}
	rec.services[serviceID]--
	return true
}

func (l *ledger) refund(nickname, serviceID string) {
	l.users[nickname].services[serviceID]++
}

func (l *ledger) balances(nickname string) map[string]int {
	out := make(map[string]int)
	rec, ok := l.users[nickname]
	if !ok {
		return out
	}
	for svc, n := range rec.services {
		if n > 0 {
			out[svc] = n
		}
	}
	return out
}

// MemoryStore is a process-local Store. State is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	ledger *ledger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledger: newLedger()}
}

func (s *MemoryStore) GetCredits(_ context.Context, nickname, serviceID string) (int, error) {
	n, err := validateKey(nickname, serviceID)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.get(n, serviceID), nil
}

func (s *MemoryStore) GrantCredits(_ context.Context, nickname, serviceID string, amount int, token string) (bool, error) {
	n, err := validateGrant(nickname, serviceID, amount, token)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.grant(n, serviceID, amount, token), nil
}

func (s *MemoryStore) ConsumeCredit(_ context.Context, nickname, serviceID string) (bool, error) {
	n, err := validateKey(nickname, serviceID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.consume(n, serviceID), nil
}

func (s *MemoryStore) Balances(_ context.Context, nickname string) (map[string]int, error) {
	n, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.balances(n), nil
}
