package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	core "flowengine/data/db"
	apperr "flowengine/errors"
	"flowengine/process"
	"flowengine/store"
)

// JobStore is the durable store.JobStore. ClaimNext revalidates eligibility
// inside the same UPDATE that claims the row (WHERE ... AND concurrency_token
// = ?), so a losing racer's UPDATE affects zero rows rather than
// overwriting the winner's claim - the same version-guarded-write pattern
// InstanceStore.Save uses, applied to lease acquisition instead of instance
// state.
type JobStore struct {
	db core.IDatabase
}

func NewJobStore(database core.IDatabase) *JobStore {
	return &JobStore{db: database}
}

func (s *JobStore) Enqueue(ctx context.Context, job *store.Job) error {
	if job.Id == "" {
		job.Id = uuid.NewString()
	}
	job.Attempt = 0
	job.ConcurrencyToken = process.EncodeVersion(0)

	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (id, type, process_instance_id, run_at, owner_id, locked_until, attempt, concurrency_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Id, job.Type, job.ProcessInstanceId, timeOrNull(job.RunAt), nil, nil, job.Attempt, job.ConcurrencyToken,
	)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "enqueue job")
	}
	return nil
}

func (s *JobStore) ClaimNext(ctx context.Context, workerId string, lease time.Duration) (*store.Job, error) {
	now := time.Now().UTC()

	var id string
	var token []byte
	row := s.db.QueryRow(ctx, `
		SELECT id, concurrency_token FROM jobs
		WHERE (run_at IS NULL OR run_at <= ?) AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY (run_at IS NULL) DESC, run_at ASC
		LIMIT 1`, now, now)
	if err := row.Scan(&id, &token); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.WrapDatabaseError(ctx, err, "select eligible job")
	}

	nextToken := process.NextVersion(token)
	lockedUntil := now.Add(lease)

	result, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET owner_id = ?, locked_until = ?, attempt = attempt + 1, concurrency_token = ?
		WHERE id = ? AND concurrency_token = ?`,
		workerId, lockedUntil, nextToken, id, token,
	)
	if err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "claim job")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, apperr.WrapDatabaseError(ctx, err, "read rows affected for job claim")
	}
	if affected == 0 {
		// Lost the race: another worker claimed it first, or it went
		// ineligible between the SELECT and the UPDATE. Not an error.
		return nil, nil
	}

	return s.getById(ctx, id)
}

func (s *JobStore) Complete(ctx context.Context, jobId string, workerId string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE id = ? AND owner_id = ?`, jobId, workerId)
	if err != nil {
		return apperr.WrapDatabaseError(ctx, err, "complete job")
	}
	return nil
}

func (s *JobStore) getById(ctx context.Context, id string) (*store.Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, process_instance_id, run_at, owner_id, locked_until, attempt, concurrency_token
		FROM jobs WHERE id = ?`, id)

	var (
		jobId, jobType, instanceId string
		runAt, lockedUntil         sql.NullTime
		ownerId                    sql.NullString
		attempt                    int
		token                      []byte
	)
	if err := row.Scan(&jobId, &jobType, &instanceId, &runAt, &ownerId, &lockedUntil, &attempt, &token); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.WrapDatabaseError(ctx, err, "read claimed job")
	}

	job := &store.Job{
		Id:                jobId,
		Type:              jobType,
		ProcessInstanceId: instanceId,
		Attempt:           attempt,
		ConcurrencyToken:  token,
	}
	if runAt.Valid {
		job.RunAt = runAt.Time
	}
	if lockedUntil.Valid {
		job.LockedUntil = lockedUntil.Time
	}
	if ownerId.Valid {
		job.OwnerId = ownerId.String
	}
	return job, nil
}

func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
