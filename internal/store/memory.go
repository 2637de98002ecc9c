package store

import (
	"sync"

	"barsync-go/internal/core/models"
)

// Memory is an in-memory Store. It does not survive a restart and exists
// for tests and ephemeral setups.
type Memory struct {
	mu  sync.RWMutex
	ops map[string]models.Operation

	// FailWrites makes Put return this error, simulating storage
	// exhaustion. FailReads does the same for Get.
	FailWrites error
	FailReads  error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{ops: make(map[string]models.Operation)}
}

func (m *Memory) Get(id string) (*models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads != nil {
		return nil, m.FailReads
	}
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &op, nil
}

func (m *Memory) Put(op *models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.ops[op.ID] = *op
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ops, id)
	return nil
}

func (m *Memory) ListAll() ([]models.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]models.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	return ops, nil
}
