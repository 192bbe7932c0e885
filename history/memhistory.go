package history

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store, useful for tests and for embedding
// applications that don't need step history to outlive the process.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]Record // instanceId -> records, append order
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]Record)}
}

func (m *MemStore) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.InstanceId] = append(m.records[record.InstanceId], record)
	return nil
}

func (m *MemStore) ListByInstance(ctx context.Context, instanceId string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records[instanceId]))
	copy(out, m.records[instanceId])
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
