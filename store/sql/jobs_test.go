package sql

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/process"
	"flowengine/store"
)

func TestSQLJobStore_EnqueueAndClaim(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStore(db)

	job := &store.Job{Type: "stepProcess", ProcessInstanceId: "inst-1"}
	require.NoError(t, s.Enqueue(context.Background(), job))
	assert.NotEmpty(t, job.Id)

	claimed, err := s.ClaimNext(context.Background(), "worker-A", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "worker-A", claimed.OwnerId)
	assert.Equal(t, 1, claimed.Attempt)
	assert.Equal(t, uint64(1), process.DecodeVersion(claimed.ConcurrencyToken))
}

func TestSQLJobStore_ClaimNext_NoEligibleJobReturnsNilNil(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStore(db)

	claimed, err := s.ClaimNext(context.Background(), "worker-A", time.Second)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestSQLJobStore_ClaimNext_SingleClaimUnderConcurrency(t *testing.T) {
	// Enqueue one job. Two workers call ClaimNext concurrently with a
	// 1-second lease. Exactly one must receive it.
	db := openTestDB(t)
	s := NewJobStore(db)
	job := &store.Job{Type: "stepProcess", ProcessInstanceId: "inst-1"}
	require.NoError(t, s.Enqueue(context.Background(), job))

	var wg sync.WaitGroup
	results := make([]*store.Job, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			claimed, err := s.ClaimNext(context.Background(), "worker-A", time.Second)
			assert.NoError(t, err)
			results[idx] = claimed
		}(i)
	}
	wg.Wait()

	nonNil := 0
	for _, r := range results {
		if r != nil {
			nonNil++
		}
	}
	assert.Equal(t, 1, nonNil, "exactly one concurrent ClaimNext should win")
}

func TestSQLJobStore_ClaimNext_ExpiredLeaseIsReclaimable(t *testing.T) {
	// Enqueue a job; worker A claims with a 1-second lease; artificially
	// set lockedUntil to the past; worker B's ClaimNext should then return
	// the job with attempt == 2.
	db := openTestDB(t)
	s := NewJobStore(db)
	job := &store.Job{Type: "stepProcess", ProcessInstanceId: "inst-1"}
	require.NoError(t, s.Enqueue(context.Background(), job))

	claimedA, err := s.ClaimNext(context.Background(), "worker-A", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimedA)
	assert.Equal(t, 1, claimedA.Attempt)

	_, err = db.Exec(context.Background(), `UPDATE jobs SET locked_until = ? WHERE id = ?`,
		time.Now().Add(-time.Minute), claimedA.Id)
	require.NoError(t, err)

	claimedB, err := s.ClaimNext(context.Background(), "worker-B", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimedB)
	assert.Equal(t, "worker-B", claimedB.OwnerId)
	assert.Equal(t, 2, claimedB.Attempt)
}

func TestSQLJobStore_Complete_DeletesOnlyWhenOwnerMatches(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStore(db)
	job := &store.Job{Type: "t", ProcessInstanceId: "inst-1"}
	require.NoError(t, s.Enqueue(context.Background(), job))

	claimed, err := s.ClaimNext(context.Background(), "worker-A", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.Complete(context.Background(), claimed.Id, "worker-B"))
	stillThere, err := s.ClaimNext(context.Background(), "worker-C", 0)
	require.NoError(t, err)
	assert.Nil(t, stillThere, "job is still leased to worker-A, not eligible yet")

	require.NoError(t, s.Complete(context.Background(), claimed.Id, "worker-A"))

	var count int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(1) FROM jobs WHERE id = ?`, claimed.Id).Scan(&count))
	assert.Equal(t, 0, count)
}
