package announce

import (
	"context"
	"sync"

	"github.com/mbd888/tradematch/internal/model"
)

// MemoryStore is the in-memory AnnouncementState store, sufficient per
// spec.md's declared lifetime ("reset on disconnect is not required").
type MemoryStore struct {
	mu     sync.RWMutex
	states map[uint64]*model.AnnouncementState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[uint64]*model.AnnouncementState)}
}

func (m *MemoryStore) GetState(_ context.Context, accountID uint64) (*model.AnnouncementState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.states[accountID]; ok {
		cp := *s
		return &cp, nil
	}
	return model.NewAnnouncementState(), nil
}

func (m *MemoryStore) SaveState(_ context.Context, accountID uint64, state *model.AnnouncementState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *state
	m.states[accountID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
