package task

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(StatusScheduled, StatusProcessing))
	assert.True(t, ValidTransition(StatusProcessing, StatusCompleted))
	assert.True(t, ValidTransition(StatusProcessing, StatusFailed))
	assert.True(t, ValidTransition(StatusScheduled, StatusFailed))
	assert.True(t, ValidTransition(StatusProcessing, StatusProcessing))

	assert.False(t, ValidTransition(StatusCompleted, StatusProcessing))
	assert.False(t, ValidTransition(StatusFailed, StatusCompleted))
	assert.False(t, ValidTransition(StatusCompleted, StatusFailed))
}

func statusStores(t *testing.T) map[string]StatusStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return map[string]StatusStore{
		"memory": NewMemoryStatusStore(),
		"redis":  NewRedisStatusStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
}

func TestStatusStore_PutGet(t *testing.T) {
	for name, store := range statusStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			require.NoError(t, store.Put(ctx, &JobStatus{
				JobID: "job-1", TaskName: "account_enrichment",
				Status: StatusScheduled, AttemptNumber: 1, MaxRetries: 3,
				CreatedAt: now, UpdatedAt: now,
			}))

			js, err := store.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusScheduled, js.Status)
			assert.Equal(t, "account_enrichment", js.TaskName)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestStatusStore_RejectsInvalidTransition(t *testing.T) {
	for name, store := range statusStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			require.NoError(t, store.Put(ctx, &JobStatus{
				JobID: "job-t", Status: StatusProcessing, UpdatedAt: now,
			}))
			require.NoError(t, store.Put(ctx, &JobStatus{
				JobID: "job-t", Status: StatusCompleted, UpdatedAt: now,
			}))

			err := store.Put(ctx, &JobStatus{JobID: "job-t", Status: StatusProcessing, UpdatedAt: now})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid status transition")
		})
	}
}

func TestStatusStore_ListFailed(t *testing.T) {
	for name, store := range statusStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)

			put := func(id string, at time.Time, status string, retryable bool) {
				require.NoError(t, store.Put(ctx, &JobStatus{
					JobID: id, TaskName: "t", Status: status,
					Retryable: retryable, UpdatedAt: at, CreatedAt: at,
				}))
			}
			put("old-failed", base.Add(-48*time.Hour), StatusFailed, true)
			put("recent-failed", base.Add(-time.Hour), StatusFailed, true)
			put("recent-fatal", base.Add(-30*time.Minute), StatusFailed, false)
			put("done", base, StatusCompleted, false)

			all, err := store.ListFailed(ctx, FailedFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			windowed, err := store.ListFailed(ctx, FailedFilter{Since: base.Add(-2 * time.Hour)})
			require.NoError(t, err)
			require.Len(t, windowed, 2)
			// newest first
			assert.Equal(t, "recent-fatal", windowed[0].JobID)
			assert.Equal(t, "recent-failed", windowed[1].JobID)

			retryable, err := store.ListFailed(ctx, FailedFilter{RetryableOnly: true})
			require.NoError(t, err)
			require.Len(t, retryable, 2)
			for _, js := range retryable {
				assert.True(t, js.Retryable)
			}

			limited, err := store.ListFailed(ctx, FailedFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestRedisStatusStore_FailedIndexCleared(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStatusStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, &JobStatus{JobID: "job-x", Status: StatusFailed, Retryable: true, UpdatedAt: now}))
	failed, err := store.ListFailed(ctx, FailedFilter{})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// a successful retry of the same job id leaves the failed index
	mr.FlushAll()
	require.NoError(t, store.Put(ctx, &JobStatus{JobID: "job-x", Status: StatusCompleted, UpdatedAt: now}))
	failed, err = store.ListFailed(ctx, FailedFilter{})
	require.NoError(t, err)
	assert.Empty(t, failed)
}
