package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

// MemoryStore keeps each record in its persisted key-value layout, so loads
// never alias committed state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Load(_ context.Context, session string) (*model.EscrowRecord, error) {
	m.mu.RLock()
	state, ok := m.sessions[session]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "session %s", session)
	}
	return model.RecordFromState(state)
}

func (m *MemoryStore) Save(_ context.Context, session string, record *model.EscrowRecord) error {
	if err := checkSavable(record); err != nil {
		return err
	}
	state := record.State()

	m.mu.Lock()
	defer m.mu.Unlock()
	if stored := m.version(session); stored != record.Version-1 {
		return errors.Wrapf(ErrVersionConflict, "session %s at version %d, writing %d", session, stored, record.Version)
	}
	m.sessions[session] = state
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, session string, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session]; !ok {
		return nil
	}
	if stored := m.version(session); stored != version {
		return errors.Wrapf(ErrVersionConflict, "session %s at version %d, removing %d", session, stored, version)
	}
	delete(m.sessions, session)
	return nil
}

// version returns the stored version, 0 when absent. Callers hold mu.
func (m *MemoryStore) version(session string) uint64 {
	state, ok := m.sessions[session]
	if !ok {
		return 0
	}
	v, _ := strconv.ParseUint(state[model.KeyVersion], 10, 64)
	return v
}
