package inbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burgan-tech/relaybox/internal/runtime/logging"
)

func insertProcessed(t *testing.T, store Store, id string, handledAt time.Time) {
	t.Helper()
	m := NewMessage(id, handledAt)
	m.MarkProcessed(handledAt)
	require.NoError(t, store.Insert(context.Background(), m))
}

func TestSweepDeletesOnlyExpiredProcessed(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	insertProcessed(t, store, "old", base.Add(-8*24*time.Hour))
	insertProcessed(t, store, "fresh", base.Add(-time.Hour))
	require.NoError(t, store.Insert(context.Background(), NewMessage("unhandled", base)))

	svc, err := NewCleanupService(store, CleanupConfig{RetentionPeriod: 7 * 24 * time.Hour}, logging.Nop(), nil)
	require.NoError(t, err)
	svc.nowFn = func() time.Time { return base }

	require.NoError(t, svc.Sweep(context.Background()))

	_, err = store.Get(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), "fresh")
	assert.NoError(t, err)
	_, err = store.Get(context.Background(), "unhandled")
	assert.NoError(t, err)
}

func TestSweepHonoursBatchSize(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		insertProcessed(t, store, id, base.Add(-30*24*time.Hour))
	}

	svc, err := NewCleanupService(store, CleanupConfig{BatchSize: 2, RetentionPeriod: 24 * time.Hour}, logging.Nop(), nil)
	require.NoError(t, err)
	svc.nowFn = func() time.Time { return base }

	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 0, store.Len())
}

type erroringStore struct {
	Store
	calls atomic.Int32
}

func (s *erroringStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.calls.Add(1)
	return 0, errors.New("disk full")
}

func TestRunContinuesAfterSweepError(t *testing.T) {
	store := &erroringStore{Store: NewMemoryStore()}
	svc, err := NewCleanupService(store, CleanupConfig{Interval: time.Millisecond}, logging.Nop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case runErr := <-done:
		assert.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after cancellation")
	}
}

func TestCleanupConfigDefaults(t *testing.T) {
	cfg := CleanupConfig{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionPeriod)
}
