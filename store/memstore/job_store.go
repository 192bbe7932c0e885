package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowengine/process"
	"flowengine/store"
)

// JobStore is an in-memory store.JobStore. ClaimNext and Complete hold the
// same lock for their whole duration, which is what gives the single-claim
// guarantee here; store/sql achieves the same guarantee through a
// version-guarded UPDATE instead of a process-wide mutex.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*store.Job)}
}

func (s *JobStore) Enqueue(ctx context.Context, job *store.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Id == "" {
		job.Id = uuid.NewString()
	}
	job.Attempt = 0
	job.ConcurrencyToken = process.EncodeVersion(0)

	stored := *job
	s.jobs[job.Id] = &stored
	return nil
}

func (s *JobStore) ClaimNext(ctx context.Context, workerId string, lease time.Duration) (*store.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*store.Job
	for _, j := range s.jobs {
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if !j.LockedUntil.IsZero() && j.LockedUntil.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, k int) bool {
		ri, rk := candidates[i].RunAt, candidates[k].RunAt
		if ri.IsZero() != rk.IsZero() {
			return ri.IsZero()
		}
		if !ri.Equal(rk) {
			return ri.Before(rk)
		}
		return candidates[i].Id < candidates[k].Id
	})

	winner := candidates[0]
	winner.OwnerId = workerId
	winner.LockedUntil = now.Add(lease)
	winner.Attempt++
	winner.ConcurrencyToken = process.NextVersion(winner.ConcurrencyToken)

	claimed := *winner
	return &claimed, nil
}

func (s *JobStore) Complete(ctx context.Context, jobId string, workerId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobId]
	if !ok {
		return nil
	}
	if job.OwnerId != workerId {
		return nil
	}
	delete(s.jobs, jobId)
	return nil
}
