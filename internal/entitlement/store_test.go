package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mayroga/internal/types"
)

// storeFactories lets every contract test run against each backend.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"file": func() Store {
			s, err := OpenFileStore(filepath.Join(t.TempDir(), "data", "entitlements.json"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_UngrantedIsZeroAndConsumeFails(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			n, err := s.GetCredits(ctx, "ana", "risoterapia")
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			ok, err := s.ConsumeCredit(ctx, "ana", "risoterapia")
			require.NoError(t, err)
			assert.False(t, ok)

			n, _ = s.GetCredits(ctx, "ana", "risoterapia")
			assert.Equal(t, 0, n)
			balances, err := s.Balances(ctx, "ana")
			require.NoError(t, err)
			assert.Empty(t, balances)
		})
	}
}

func TestStore_GrantsAreAdditive(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			applied, err := s.GrantCredits(ctx, "ana", "horoscopo", 5, "t1")
			require.NoError(t, err)
			assert.True(t, applied)
			applied, err = s.GrantCredits(ctx, "ana", "horoscopo", 3, "t2")
			require.NoError(t, err)
			assert.True(t, applied)

			n, err := s.GetCredits(ctx, "ana", "horoscopo")
			require.NoError(t, err)
			assert.Equal(t, 8, n)
		})
	}
}

func TestStore_ReplayedTokenIsNoop(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			token := PaymentToken("cs_test_123")

			applied, err := s.GrantCredits(ctx, "ana", "risoterapia", 1, token)
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = s.GrantCredits(ctx, "ana", "risoterapia", 1, token)
			require.NoError(t, err)
			assert.False(t, applied)

			// The token is global, not per nickname.
			applied, err = s.GrantCredits(ctx, "eve", "risoterapia", 1, token)
			require.NoError(t, err)
			assert.False(t, applied)

			n, _ := s.GetCredits(ctx, "ana", "risoterapia")
			assert.Equal(t, 1, n)
			n, _ = s.GetCredits(ctx, "eve", "risoterapia")
			assert.Equal(t, 0, n)
		})
	}
}

func TestStore_ConsumeNeverGoesNegative(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			_, err := s.GrantCredits(ctx, "ana", "risoterapia", 1, "t1")
			require.NoError(t, err)

			ok, err := s.ConsumeCredit(ctx, "ana", "risoterapia")
			require.NoError(t, err)
			assert.True(t, ok)
			n, _ := s.GetCredits(ctx, "ana", "risoterapia")
			assert.Equal(t, 0, n)

			for range 3 {
				ok, err = s.ConsumeCredit(ctx, "ana", "risoterapia")
				require.NoError(t, err)
				assert.False(t, ok)
			}
			n, _ = s.GetCredits(ctx, "ana", "risoterapia")
			assert.Equal(t, 0, n)
		})
	}
}

func TestStore_ConcurrentConsumesNeverOverdraw(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			_, err := s.GrantCredits(ctx, "ana", "risoterapia", 10, "t1")
			require.NoError(t, err)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				consumed int
			)
			for range 40 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.ConsumeCredit(ctx, "ana", "risoterapia")
					if err == nil && ok {
						mu.Lock()
						consumed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 10, consumed)
			n, _ := s.GetCredits(ctx, "ana", "risoterapia")
			assert.Equal(t, 0, n)
		})
	}
}

func TestStore_Validation(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			_, err := s.GrantCredits(ctx, "  ", "risoterapia", 1, "t1")
			assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidNickname))

			_, err = s.GrantCredits(ctx, "ana", "risoterapia", 0, "t1")
			assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidAmount))

			_, err = s.GrantCredits(ctx, "ana", "risoterapia", 1, "")
			assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidToken))

			_, err = s.ConsumeCredit(ctx, "ana", "")
			assert.True(t, types.HasCode(err, types.ErrCodeValidationMissingField))
		})
	}
}

func TestStore_NicknameIsTrimmed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GrantCredits(ctx, "  ana ", "horoscopo", 2, "t1")
	require.NoError(t, err)

	n, err := s.GetCredits(ctx, "ana", "horoscopo")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, _ = s.GetCredits(ctx, "Ana", "horoscopo")
	assert.Equal(t, 0, n, "nicknames are case-sensitive")
}

func TestFileStore_LayoutAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "entitlements.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	_, err = s.GrantCredits(ctx, "ana", "risoterapia", 2, PaymentToken("cs_1"))
	require.NoError(t, err)
	_, err = s.ConsumeCredit(ctx, "ana", "risoterapia")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `{"risoterapia":{"sesiones_restantes":1}}`, string(doc["ana"]["servicios"]))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	n, err := reopened.GetCredits(ctx, "ana", "risoterapia")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	applied, err := reopened.GrantCredits(ctx, "ana", "risoterapia", 2, PaymentToken("cs_1"))
	require.NoError(t, err)
	assert.False(t, applied, "tokens must survive a reload")
}

func TestFileStore_ReadsLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	legacy := `{"bob": {"servicios": {"horoscopo": {"sesiones_restantes": 4}, "medico": {"sesiones_restantes": 0}}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := OpenFileStore(path)
	require.NoError(t, err)

	balances, err := s.Balances(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"horoscopo": 4}, balances)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFileStore(filepath.Join(dir, "entitlements.json"))
	require.NoError(t, err)
	_, err = s.GrantCredits(ctx, "ana", "horoscopo", 1, "t1")
	require.NoError(t, err)

	// Point the store at a directory that no longer exists.
	s.path = filepath.Join(dir, "gone", "entitlements.json")

	_, err = s.GrantCredits(ctx, "ana", "horoscopo", 5, "t2")
	require.Error(t, err)
	ok, err := s.ConsumeCredit(ctx, "ana", "horoscopo")
	require.Error(t, err)
	assert.False(t, ok)

	s.path = filepath.Join(dir, "entitlements.json")
	n, _ := s.GetCredits(ctx, "ana", "horoscopo")
	assert.Equal(t, 1, n, "failed writes must not change balances")
	applied, err := s.GrantCredits(ctx, "ana", "horoscopo", 5, "t2")
	require.NoError(t, err)
	assert.True(t, applied, "a failed grant must not burn its token")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.GrantEvent
	err    error
}

func (p *recordingPublisher) PublishGrant(_ context.Context, e types.GrantEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func TestWithPublisher(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := WithPublisher(NewMemoryStore(), pub, nil)

	_, err := s.GrantCredits(ctx, "bob", "horoscopo", 10, CodeToken("bob", "nonce-1", "horoscopo"))
	require.NoError(t, err)
	_, err = s.GrantCredits(ctx, "bob", "horoscopo", 10, CodeToken("bob", "nonce-1", "horoscopo"))
	require.NoError(t, err)
	_, err = s.GrantCredits(ctx, "ana", "risoterapia", 1, PaymentToken("cs_9"))
	require.NoError(t, err)

	require.Len(t, pub.events, 2, "replays must not publish")
	assert.Equal(t, types.GrantSourceCode, pub.events[0].Source)
	assert.Equal(t, "bob", pub.events[0].Nickname)
	assert.Equal(t, 10, pub.events[0].Amount)
	assert.NotEmpty(t, pub.events[0].ID)
	assert.Equal(t, types.GrantSourcePayment, pub.events[1].Source)
}

func TestWithPublisher_FailureDoesNotFailGrant(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("queue down")}
	s := WithPublisher(NewMemoryStore(), pub, nil)

	applied, err := s.GrantCredits(ctx, "ana", "medico", 1, "t1")
	require.NoError(t, err)
	assert.True(t, applied)
	n, _ := s.GetCredits(ctx, "ana", "medico")
	assert.Equal(t, 1, n)
}

func TestWithPublisher_NilReturnsStore(t *testing.T) {
	base := NewMemoryStore()
	assert.Same(t, base, WithPublisher(base, nil, nil))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, "stripe:cs_1", PaymentToken("cs_1"))
	assert.Equal(t, "code:bob:abc:horoscopo", CodeToken("bob", "abc", "horoscopo"))
	assert.Equal(t, types.GrantSourceCode, SourceOf(CodeToken("bob", "abc", "x")))
	assert.Equal(t, types.GrantSourcePayment, SourceOf(PaymentToken("cs_1")))
	_, err := NormalizeNickname(fmt.Sprintf("%065d", 1))
	assert.Error(t, err)
}

func TestNormalizeNickname(t *testing.T) {
	n, err := NormalizeNickname("  " + strings.Repeat("ñ", 64) + " ")
	require.NoError(t, err, "64 runes fit even though they are 128 bytes")
	assert.Equal(t, strings.Repeat("ñ", 64), n)

	for _, bad := range []string{"", "   ", strings.Repeat("ñ", 65), "an\x00a", "bob\nsmith"} {
		_, err := NormalizeNickname(bad)
		assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidNickname), "%q", bad)
	}
}
