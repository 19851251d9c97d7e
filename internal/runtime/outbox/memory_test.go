package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addMessages(t *testing.T, s *MemoryStore, names ...string) []*Message {
	t.Helper()
	msgs := make([]*Message, 0, len(names))
	base := time.Now().UTC()
	for i, name := range names {
		m := NewMessage(name, []byte(name), nil)
		m.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		msgs = append(msgs, m)
	}
	require.NoError(t, s.Add(context.Background(), nil, msgs...))
	return msgs
}

func TestMemoryStoreClaimOrdersByCreation(t *testing.T) {
	s := NewMemoryStore()
	addMessages(t, s, "first", "second", "third")

	claimed, err := s.ClaimPending(context.Background(), time.Now().UTC(), 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "first", claimed[0].EventName)
	assert.Equal(t, "second", claimed[1].EventName)
	assert.Equal(t, "third", claimed[2].EventName)
}

func TestMemoryStoreClaimRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	addMessages(t, s, "a", "b", "c", "d")

	claimed, err := s.ClaimPending(context.Background(), time.Now().UTC(), 2, 5)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestMemoryStoreClaimLeaseBlocksSecondClaimer(t *testing.T) {
	s := NewMemoryStore()
	addMessages(t, s, "a")
	now := time.Now().UTC()

	first, err := s.ClaimPending(context.Background(), now, 10, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same instant: the lease is held.
	second, err := s.ClaimPending(context.Background(), now, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, second)

	// After the lease expires the row is claimable again.
	later, err := s.ClaimPending(context.Background(), now.Add(memoryLockLease+time.Second), 10, 5)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestMemoryStoreSaveReleasesLease(t *testing.T) {
	s := NewMemoryStore()
	msgs := addMessages(t, s, "a")
	now := time.Now().UTC()

	claimed, err := s.ClaimPending(context.Background(), now, 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	claimed[0].MarkFailed(now, errors.New("boom"), time.Millisecond, 0)
	require.NoError(t, s.Save(context.Background(), claimed...))

	// Lease released and the retry is due shortly after.
	again, err := s.ClaimPending(context.Background(), now.Add(time.Second), 10, 5)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, msgs[0].ID, again[0].ID)
	assert.Equal(t, 1, again[0].RetryCount)
}

func TestMemoryStoreClaimSkipsExhaustedAndFuture(t *testing.T) {
	s := NewMemoryStore()
	msgs := addMessages(t, s, "exhausted", "scheduled", "due")
	now := time.Now().UTC()

	msgs[0].RetryCount = 5
	future := now.Add(time.Hour)
	msgs[1].NextRetryAt = &future
	require.NoError(t, s.Save(context.Background(), msgs[0], msgs[1]))

	claimed, err := s.ClaimPending(context.Background(), now, 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due", claimed[0].EventName)
}

func TestMemoryStoreClaimSkipsProcessed(t *testing.T) {
	s := NewMemoryStore()
	msgs := addMessages(t, s, "done", "pending")
	msgs[0].MarkProcessed(time.Now())
	require.NoError(t, s.Save(context.Background(), msgs[0]))

	claimed, err := s.ClaimPending(context.Background(), time.Now().UTC(), 10, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "pending", claimed[0].EventName)
}

func TestMemoryStoreDeleteProcessedBefore(t *testing.T) {
	s := NewMemoryStore()
	msgs := addMessages(t, s, "old", "fresh", "pending")
	now := time.Now().UTC()

	msgs[0].MarkProcessed(now.Add(-48 * time.Hour))
	msgs[1].MarkProcessed(now)
	require.NoError(t, s.Save(context.Background(), msgs[0], msgs[1]))

	deleted, err := s.DeleteProcessedBefore(context.Background(), now.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.Get(msgs[0].ID))
	assert.NotNil(t, s.Get(msgs[1].ID))
	assert.NotNil(t, s.Get(msgs[2].ID))
}

func TestMemoryStoreAddCopies(t *testing.T) {
	s := NewMemoryStore()
	m := NewMessage("OrderPlaced", []byte("payload"), nil)
	require.NoError(t, s.Add(context.Background(), nil, m))

	m.EventData[0] = 'X'
	stored := s.Get(m.ID)
	require.NotNil(t, stored)
	assert.Equal(t, []byte("payload"), stored.EventData)
}
