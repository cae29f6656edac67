package ordersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, store *flakyStore) *JobTracker {
	t.Helper()
	tracker := NewJobTracker(store, DefaultJobsCollection, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, testLogger{t: t})
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return tracker
}

func TestJobTrackerLifecycle(t *testing.T) {
	store := newFlakyStore()
	tracker := newTestTracker(t, store)
	ctx := context.Background()

	created, err := tracker.Create(ctx, "sync_1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusStarted, created.Status)
	assert.Equal(t, JobTypeFullOrderSync, created.Type)

	job, err := tracker.Get(ctx, "sync_1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusStarted, job.Status)
	assert.Zero(t, job.TotalOrders)
	assert.Nil(t, job.CompletedAt)
	assert.True(t, job.StartedAt.Equal(created.StartedAt))

	tracker.Update(ctx, "sync_1", Progress{Synced: 4, Skipped: 1, Errors: 2})
	job, err = tracker.Get(ctx, "sync_1")
	require.NoError(t, err)
	assert.Equal(t, 5, job.TotalOrders)
	assert.Equal(t, 4, job.SyncedOrders)
	assert.Equal(t, 1, job.SkippedOrders)
	assert.Equal(t, 2, job.Errors)
	assert.True(t, job.LastUpdated.After(job.StartedAt))

	tracker.Finish(ctx, "sync_1", JobStatusCompleted, Progress{Synced: 10, Skipped: 1, Errors: 2}, nil)
	job, err = tracker.Get(ctx, "sync_1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 11, job.TotalOrders)
	require.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)

	tracker.Finish(ctx, "sync_1", JobStatusFailed, Progress{}, errors.New("late failure"))
	tracker.Update(ctx, "sync_1", Progress{Synced: 99})
	job, err = tracker.Get(ctx, "sync_1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status, "terminal jobs are never mutated")
	assert.Equal(t, 10, job.SyncedOrders)
}

func TestJobTrackerMissingJobIsNoop(t *testing.T) {
	store := newFlakyStore()
	tracker := newTestTracker(t, store)
	tracker.Update(context.Background(), "sync_missing", Progress{Synced: 1})
	tracker.Finish(context.Background(), "sync_missing", JobStatusFailed, Progress{}, errors.New("x"))
	assert.Zero(t, store.updateCalls)

	_, err := tracker.Get(context.Background(), "sync_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobTrackerSwallowsStoreFailures(t *testing.T) {
	store := newFlakyStore()
	tracker := newTestTracker(t, store)
	_, err := tracker.Create(context.Background(), "sync_2")
	require.NoError(t, err)

	store.updateErr = func(int) error { return errTransient }
	tracker.Update(context.Background(), "sync_2", Progress{Synced: 3})
	assert.Equal(t, 3, store.updateCalls, "updates go through the retry policy")

	store.queryErr = func(int, string) error { return errors.New("unavailable") }
	tracker.Finish(context.Background(), "sync_2", JobStatusCompleted, Progress{}, nil)

	store.queryErr = nil
	job, err := tracker.Get(context.Background(), "sync_2")
	require.NoError(t, err)
	assert.Equal(t, JobStatusStarted, job.Status)
}

func TestJobTrackerCreateRetriesTransient(t *testing.T) {
	store := newFlakyStore()
	store.insertErr = func(call int) error {
		if call == 1 {
			return errTransient
		}
		return nil
	}
	tracker := newTestTracker(t, store)
	_, err := tracker.Create(context.Background(), "sync_3")
	require.NoError(t, err)
	assert.Equal(t, 2, store.insertCalls)
}

func TestJobIDsAreUniqueWithinMillisecond(t *testing.T) {
	var ids jobIDSource
	now := time.UnixMilli(1700000000000)
	first := ids.next(now)
	second := ids.next(now)
	third := ids.next(now.Add(-time.Second))
	assert.Equal(t, "sync_1700000000000", first)
	assert.Equal(t, "sync_1700000000001", second)
	assert.Equal(t, "sync_1700000000002", third)
}
