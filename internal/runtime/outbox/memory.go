package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

const memoryLockLease = 30 * time.Second

type memoryRecord struct {
	msg         Message
	lockedUntil time.Time
}

// MemoryStore is an in-memory Store for tests and local development. It
// honours the same claim-lease discipline as the SQL stores.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*memoryRecord
}

// NewMemoryStore creates an empty in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*memoryRecord)}
}

// Add inserts copies of the given messages. The Execer is ignored; the
// memory store has no transaction to join.
func (s *MemoryStore) Add(ctx context.Context, _ Execer, msgs ...*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		copy := cloneMessage(m)
		s.rows[m.ID] = &memoryRecord{msg: *copy}
	}
	return nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, now time.Time, limit, maxRetryCount int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*memoryRecord, 0, limit)
	for _, rec := range s.rows {
		m := &rec.msg
		if m.ProcessedAt != nil {
			continue
		}
		if m.RetryCount >= maxRetryCount {
			continue
		}
		if m.NextRetryAt != nil && m.NextRetryAt.After(now) {
			continue
		}
		if rec.lockedUntil.After(now) {
			continue
		}
		due = append(due, rec)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].msg.CreatedAt.Before(due[j].msg.CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Message, 0, len(due))
	for _, rec := range due {
		rec.lockedUntil = now.Add(memoryLockLease)
		claimed = append(claimed, cloneMessage(&rec.msg))
	}
	return claimed, nil
}

func (s *MemoryStore) Save(ctx context.Context, msgs ...*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		rec, ok := s.rows[m.ID]
		if !ok {
			continue
		}
		rec.msg = *cloneMessage(m)
		rec.lockedUntil = time.Time{}
	}
	return nil
}

func (s *MemoryStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, rec := range s.rows {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if rec.msg.ProcessedAt != nil && rec.msg.ProcessedAt.Before(cutoff) {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a copy of the stored message, or nil when absent.
func (s *MemoryStore) Get(id string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[id]
	if !ok {
		return nil
	}
	return cloneMessage(&rec.msg)
}

// Len reports the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Snapshot returns copies of all rows in creation order.
func (s *MemoryStore) Snapshot() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Message, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, cloneMessage(&rec.msg))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneMessage(m *Message) *Message {
	copy := *m
	if m.EventData != nil {
		copy.EventData = append([]byte(nil), m.EventData...)
	}
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		copy.ProcessedAt = &t
	}
	if m.NextRetryAt != nil {
		t := *m.NextRetryAt
		copy.NextRetryAt = &t
	}
	if m.ExtraProperties != nil {
		props := make(map[string]string, len(m.ExtraProperties))
		for k, v := range m.ExtraProperties {
			props[k] = v
		}
		copy.ExtraProperties = props
	}
	return &copy
}
