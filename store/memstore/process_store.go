// Package memstore provides in-memory reference implementations of
// store.ProcessStore, store.InstanceStore, and store.JobStore, suitable for
// tests and single-process embedding without a database.
package memstore

import (
	"context"
	"sync"

	"flowengine/graph"
)

// ProcessStore keeps every saved version of every definition, keyed by id,
// plus a key -> latest-id index.
type ProcessStore struct {
	mu       sync.RWMutex
	byId     map[string]*graph.Definition
	latestId map[string]string // key -> id of latest version
}

func NewProcessStore() *ProcessStore {
	return &ProcessStore{
		byId:     make(map[string]*graph.Definition),
		latestId: make(map[string]string),
	}
}

func (s *ProcessStore) Save(ctx context.Context, def *graph.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byId[def.Id] = def
	s.latestId[def.Key] = def.Id
	return nil
}

func (s *ProcessStore) GetByKey(ctx context.Context, key string) (*graph.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latestId[key]
	if !ok {
		return nil, nil
	}
	return s.byId[id], nil
}

func (s *ProcessStore) GetById(ctx context.Context, id string) (*graph.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byId[id]
	if !ok {
		return nil, nil
	}
	return def, nil
}

func (s *ProcessStore) GetAll(ctx context.Context) ([]*graph.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Definition, 0, len(s.byId))
	for _, def := range s.byId {
		out = append(out, def)
	}
	return out, nil
}
