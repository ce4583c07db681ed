package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mayroga/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	srv, err := NewServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// mockRateLimitStore returns a fixed result and records keys.
type mockRateLimitStore struct {
	mu     sync.Mutex
	result RateLimitResult
	err    error
	keys   []string
}

func (m *mockRateLimitStore) IncrementAndCheck(_ context.Context, key string) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return m.result, m.err
}

type recordedRequest struct {
	method, endpoint, status string
	duration                 time.Duration
}

type mockMetrics struct {
	mu    sync.Mutex
	calls []recordedRequest
}

func (m *mockMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedRequest{method, endpoint, status, duration})
}

type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panicMsg string
	called   atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}
