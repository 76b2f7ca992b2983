package dedupe

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

type fakeStore struct {
	entries map[string]string
	ttls    map[string]time.Duration
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (s *fakeStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, exists := s.entries[key]; exists {
		return false, nil
	}
	s.entries[key] = value
	s.ttls[key] = ttl
	return true, nil
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

func testEvent() domain.AlertEvent {
	return domain.AlertEvent{
		LocationID: "L1",
		RuleID:     "temp-low",
		Bucket:     time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGateAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins, second is suppressed", func(t *testing.T) {
		store := newFakeStore()
		gate := New(store, 12*time.Hour, FailClosed, testLogger(), nil)

		assert.True(t, gate.Admit(ctx, testEvent()))
		assert.False(t, gate.Admit(ctx, testEvent()))
	})

	t.Run("distinct events are admitted independently", func(t *testing.T) {
		store := newFakeStore()
		gate := New(store, 12*time.Hour, FailClosed, testLogger(), nil)

		assert.True(t, gate.Admit(ctx, testEvent()))
		other := testEvent()
		other.RuleID = "wind-high"
		assert.True(t, gate.Admit(ctx, other))
	})

	t.Run("key is namespaced and TTL passed through", func(t *testing.T) {
		store := newFakeStore()
		gate := New(store, 12*time.Hour, FailClosed, testLogger(), nil)

		require.True(t, gate.Admit(ctx, testEvent()))
		key := keyPrefix + testEvent().DedupKey()
		_, ok := store.entries[key]
		require.True(t, ok)
		assert.Equal(t, 12*time.Hour, store.ttls[key])
	})

	t.Run("claim survives across gate instances", func(t *testing.T) {
		store := newFakeStore()
		first := New(store, 12*time.Hour, FailClosed, testLogger(), nil)
		second := New(store, 12*time.Hour, FailClosed, testLogger(), nil)

		assert.True(t, first.Admit(ctx, testEvent()))
		assert.False(t, second.Admit(ctx, testEvent()))
	})
}

func TestGateDegraded(t *testing.T) {
	ctx := context.Background()
	storeDown := &fakeStore{err: errors.New("connection refused")}

	t.Run("fail-closed suppresses on cache error", func(t *testing.T) {
		degradations := 0
		gate := New(storeDown, time.Hour, FailClosed, testLogger(), func() { degradations++ })

		assert.False(t, gate.Admit(ctx, testEvent()))
		assert.Equal(t, 1, degradations)
	})

	t.Run("fail-open admits on cache error", func(t *testing.T) {
		degradations := 0
		gate := New(storeDown, time.Hour, FailOpen, testLogger(), func() { degradations++ })

		assert.True(t, gate.Admit(ctx, testEvent()))
		assert.Equal(t, 1, degradations)
	})

	t.Run("nil degraded callback is tolerated", func(t *testing.T) {
		gate := New(storeDown, time.Hour, FailClosed, testLogger(), nil)
		assert.False(t, gate.Admit(ctx, testEvent()))
	})

	t.Run("unknown policy defaults to fail-closed", func(t *testing.T) {
		gate := New(storeDown, time.Hour, Policy("whatever"), testLogger(), nil)
		assert.False(t, gate.Admit(ctx, testEvent()))
	})
}
