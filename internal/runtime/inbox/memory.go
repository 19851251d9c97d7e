package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Message
}

// NewMemoryStore creates an empty in-memory inbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Message)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) Insert(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[m.ID]; ok {
		return fmt.Errorf("relaybox: inbox message %s already exists", m.ID)
	}
	s.rows[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[m.ID]; !ok {
		return ErrNotFound
	}
	s.rows[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, m := range s.rows {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if m.Status == StatusProcessed && m.HandledAt != nil && m.HandledAt.Before(cutoff) {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func cloneMessage(m *Message) *Message {
	copy := *m
	if m.HandledAt != nil {
		t := *m.HandledAt
		copy.HandledAt = &t
	}
	return &copy
}
