package learning

import (
	"context"
	"sync"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// MemoryStore is an in-process correction log.
type MemoryStore struct {
	corrections []model.Correction
	mu          sync.RWMutex
}

// NewMemoryStore returns an empty log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendCorrection appends c and assigns its sequence number.
func (s *MemoryStore) AppendCorrection(_ context.Context, c *model.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Sequence = int64(len(s.corrections) + 1)
	s.corrections = append(s.corrections, *c)
	return nil
}

// ListCorrections returns the whole log in append order.
func (s *MemoryStore) ListCorrections(_ context.Context) ([]model.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Correction, len(s.corrections))
	copy(out, s.corrections)
	return out, nil
}
