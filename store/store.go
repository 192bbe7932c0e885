// Package store defines the persistence contracts the executor and the
// runtime façade depend on: ProcessStore for definitions, InstanceStore for
// running instances, and JobStore for the durable job-coordination queue.
// store/memstore provides in-memory reference implementations; store/sql
// provides durable, database/sql-backed ones.
package store

import (
	"context"
	"time"

	"flowengine/graph"
	"flowengine/process"
)

// ProcessStore persists deployed process definitions. GetByKey always
// resolves to the latest version for the key. store/sql assigns each Save a
// new monotonically increasing version number under the definition's key
// and atomically flips the prior "latest" row for that key to non-latest;
// store/memstore keeps no version number and treats the definition most
// recently saved under a key as its latest.
type ProcessStore interface {
	Save(ctx context.Context, def *graph.Definition) error
	GetByKey(ctx context.Context, key string) (*graph.Definition, error)
	GetById(ctx context.Context, id string) (*graph.Definition, error)
	GetAll(ctx context.Context) ([]*graph.Definition, error)
}

// InstanceStore persists process instances. Durable implementations apply
// optimistic concurrency keyed on Instance.ConcurrencyToken: Save fails with
// an ErrCodeConcurrency error if the stored token has advanced since the
// instance was last read.
type InstanceStore interface {
	Save(ctx context.Context, instance *process.Instance) error
	GetById(ctx context.Context, id string) (*process.Instance, error)
	GetByProcessKey(ctx context.Context, key string) ([]*process.Instance, error)
}

// Job is one unit of durable, lease-coordinated work: "this instance has a
// pending Step". Jobs are created whenever an instance has more steps to
// perform and removed on successful completion.
type Job struct {
	Id                string
	Type              string
	ProcessInstanceId string

	// RunAt is the earliest instant this job becomes eligible for claim.
	// Zero means eligible immediately.
	RunAt time.Time

	// OwnerId is the worker currently holding the lease. Empty means
	// unclaimed.
	OwnerId string

	// LockedUntil is the lease expiry. Zero means unleased.
	LockedUntil time.Time

	Attempt int

	ConcurrencyToken []byte
}

// JobStore is the durable coordination primitive: it guarantees that a job
// referencing a given process instance is claimed by at most one live
// worker at a time, with lease expiry as the crash-recovery mechanism.
type JobStore interface {
	// Enqueue inserts job, assigning an id if Id is empty and initializing
	// Attempt and ConcurrencyToken.
	Enqueue(ctx context.Context, job *Job) error

	// ClaimNext atomically selects one eligible row - RunAt is zero or not
	// after now, and LockedUntil is zero or before now - orders by RunAt
	// ascending (zero/unset first), and leases it to workerId for the
	// given duration. Returns nil, nil if no job is eligible.
	ClaimNext(ctx context.Context, workerId string, lease time.Duration) (*Job, error)

	// Complete deletes the row if and only if its current owner matches
	// workerId; otherwise it is a silent no-op, since a worker whose
	// lease already expired must not remove another worker's claim.
	Complete(ctx context.Context, jobId string, workerId string) error
}
