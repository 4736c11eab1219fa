package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	op        *Operation
	cancelled bool
}

// MemoryStore keeps operations in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	retention time.Duration
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[op.ID]; exists {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	now := s.now()
	stored := op.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.entries[op.ID] = &memoryEntry{op: stored}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.op.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(op *Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if entry.op.Status.IsTerminal() {
		return nil
	}
	fn(entry.op)
	entry.op.UpdatedAt = s.now()
	if entry.op.Status.IsTerminal() && entry.op.FinishedAt == nil {
		finished := entry.op.UpdatedAt
		entry.op.FinishedAt = &finished
	}
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	if entry.op.Status.IsTerminal() {
		delete(s.entries, id)
		return nil
	}
	entry.cancelled = true
	return nil
}

func (s *MemoryStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	return entry.cancelled, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.op.FinishedAt == nil || !entry.op.Status.IsTerminal() {
			continue
		}
		if now.Sub(*entry.op.FinishedAt) >= s.retention {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
