package core

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketIdleTTL is how long an untouched limiter survives before the sweep
// reclaims it. A full bucket carries no state worth keeping.
const bucketIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// MemoryRateLimitStore keeps one rate.Limiter per client key. Each holds up
// to burst tokens and refills at perMinute tokens per minute.
type MemoryRateLimitStore struct {
	mu        sync.Mutex
	buckets   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimitStore creates a store. perMinute must be positive; a
// burst of zero defaults to perMinute.
func NewMemoryRateLimitStore(perMinute, burst int) *MemoryRateLimitStore {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &MemoryRateLimitStore{
		buckets: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
	}
}

// IncrementAndCheck implements RateLimitStore.
func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	cl, ok := m.buckets[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = cl
	}
	cl.last = now

	result := RateLimitResult{Limit: m.burst}
	if cl.limiter.AllowN(now, 1) {
		result.Allowed = true
	}

	tokens := cl.limiter.TokensAt(now)
	if !result.Allowed {
		result.RetryAt = now.Add(m.durationFor(1 - tokens))
	}
	result.Remaining = max(0, int(math.Floor(tokens)))
	result.ResetAt = now.Add(m.durationFor(float64(m.burst) - tokens))
	return result, nil
}

func (m *MemoryRateLimitStore) durationFor(tokens float64) time.Duration {
	if tokens <= 0 {
		return 0
	}
	return time.Duration(tokens / float64(m.limit) * float64(time.Second))
}

// sweep drops idle limiters at most once per bucketIdleTTL. Caller holds mu.
func (m *MemoryRateLimitStore) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < bucketIdleTTL {
		return
	}
	m.lastSweep = now
	for key, cl := range m.buckets {
		if now.Sub(cl.last) >= bucketIdleTTL {
			delete(m.buckets, key)
		}
	}
}
