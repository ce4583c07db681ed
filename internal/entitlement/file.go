package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"mayroga/internal/types"
)

// fileService and fileUser mirror the on-disk layout:
//
//	{"ana": {"servicios": {"risoterapia": {"sesiones_restantes": 1}}, "tokens": ["stripe:cs_1"]}}
type fileService struct {
	Remaining int `json:"sesiones_restantes"`
}

type fileUser struct {
	Services map[string]fileService `json:"servicios"`
	Tokens   []string               `json:"tokens,omitempty"`
}

// FileStore persists entitlements to a single JSON file. Every mutation
// rewrites the file through a temp file and rename, so a crash leaves either
// the old or the new document on disk.
type FileStore struct {
	path string

	mu     sync.Mutex
	ledger *ledger
}

// OpenFileStore loads path, treating a missing file as empty state. The
// parent directory is created if needed.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("entitlement: creating store directory: %w", err)
	}

	l, err := loadLedger(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, ledger: l}, nil
}

func loadLedger(path string) (*ledger, error) {
	l := newLedger()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entitlement: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return l, nil
	}

	var doc map[string]fileUser
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("entitlement: decoding %s: %w", path, err)
	}

	for nickname, u := range doc {
		rec := &record{services: make(map[string]int, len(u.Services))}
		for svc, entry := range u.Services {
			if entry.Remaining > 0 {
				rec.services[svc] = entry.Remaining
			}
		}
		rec.tokens = append(rec.tokens, u.Tokens...)
		for _, tok := range u.Tokens {
			l.tokens[tok] = struct{}{}
		}
		l.users[nickname] = rec
	}
	return l, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) GetCredits(_ context.Context, nickname, serviceID string) (int, error) {
	n, err := validateKey(nickname, serviceID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.get(n, serviceID), nil
}

func (s *FileStore) GrantCredits(_ context.Context, nickname, serviceID string, amount int, token string) (bool, error) {
	n, err := validateGrant(nickname, serviceID, amount, token)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ledger.grant(n, serviceID, amount, token) {
		return false, nil
	}
	if err := s.persist(); err != nil {
		s.ledger.revokeGrant(n, serviceID, amount, token)
		return false, err
	}
	return true, nil
}

func (s *FileStore) ConsumeCredit(_ context.Context, nickname, serviceID string) (bool, error) {
	n, err := validateKey(nickname, serviceID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ledger.consume(n, serviceID) {
		return false, nil
	}
	if err := s.persist(); err != nil {
		s.ledger.refund(n, serviceID)
		return false, err
	}
	return true, nil
}

func (s *FileStore) Balances(_ context.Context, nickname string) (map[string]int, error) {
	n, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.balances(n), nil
}

// Check verifies the store directory is still reachable.
func (s *FileStore) Check(_ context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// persist writes the ledger to disk. The caller holds s.mu.
func (s *FileStore) persist() error {
	doc := make(map[string]fileUser, len(s.ledger.users))
	for nickname, rec := range s.ledger.users {
		u := fileUser{Services: make(map[string]fileService, len(rec.services)), Tokens: rec.tokens}
		for svc, n := range rec.services {
			u.Services[svc] = fileService{Remaining: n}
		}
		doc[nickname] = u
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to encode entitlements", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".entitlements-*.tmp")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStore, "failed to write entitlements", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStore, "failed to sync entitlements", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStore, "failed to close entitlements file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStore, "failed to replace entitlements file", err)
	}
	return nil
}
