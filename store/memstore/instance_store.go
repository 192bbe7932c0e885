package memstore

import (
	"bytes"
	"context"
	"sync"

	apperr "flowengine/errors"
	"flowengine/process"
)

// InstanceStore keeps one process.Instance per id, enforcing the same
// optimistic-concurrency contract a durable backend would: Save rejects a
// write whose ConcurrencyToken does not match the currently stored one.
type InstanceStore struct {
	mu   sync.RWMutex
	byId map[string]*process.Instance
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{byId: make(map[string]*process.Instance)}
}

func (s *InstanceStore) Save(ctx context.Context, instance *process.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byId[instance.Id]
	if ok && !bytes.Equal(existing.ConcurrencyToken, instance.ConcurrencyToken) {
		return apperr.NewConcurrencyConflict("instance:" + instance.Id)
	}

	next := process.NextVersion(instance.ConcurrencyToken)
	stored := cloneInstance(instance)
	stored.ConcurrencyToken = next
	s.byId[instance.Id] = stored

	instance.ConcurrencyToken = next
	return nil
}

func (s *InstanceStore) GetById(ctx context.Context, id string) (*process.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byId[id]
	if !ok {
		return nil, nil
	}
	return cloneInstance(inst), nil
}

func (s *InstanceStore) GetByProcessKey(ctx context.Context, key string) ([]*process.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*process.Instance
	for _, inst := range s.byId {
		if inst.ProcessKey == key {
			out = append(out, cloneInstance(inst))
		}
	}
	return out, nil
}

// cloneInstance returns a deep-enough copy that the caller and the store
// never share mutable map state - the store owns its own copy of
// Variables/ActiveTokens/ParallelJoinWaits independent of whatever the
// caller does with its reference afterward.
func cloneInstance(inst *process.Instance) *process.Instance {
	out := *inst
	out.Variables = inst.Variables.Clone()

	out.ActiveTokens = make(map[string]struct{}, len(inst.ActiveTokens))
	for k, v := range inst.ActiveTokens {
		out.ActiveTokens[k] = v
	}

	out.ParallelJoinWaits = make(map[string]int, len(inst.ParallelJoinWaits))
	for k, v := range inst.ParallelJoinWaits {
		out.ParallelJoinWaits[k] = v
	}

	token := make([]byte, len(inst.ConcurrencyToken))
	copy(token, inst.ConcurrencyToken)
	out.ConcurrencyToken = token

	return &out
}
