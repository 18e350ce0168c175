package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginmind/pluginmind/engine/core"
)

func TestMemoryStore_Users(t *testing.T) {
	t.Run("Should provision a free-tier user on first contact", func(t *testing.T) {
		s := NewMemoryStore()
		u, err := s.GetOrCreateUser(context.Background(), core.Identity{
			Subject: "sub-1", Email: "user@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, core.TierFree, u.Tier)
		assert.Equal(t, "user@example.com", u.Email)
		assert.True(t, u.Active)
		assert.Positive(t, u.QueriesLimit)
		assert.Zero(t, u.QueriesUsed)

		again, err := s.GetOrCreateUser(context.Background(), core.Identity{Subject: "sub-1"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, again.ID, "same subject resolves to the same user")
	})

	t.Run("Should stop incrementing at the quota boundary", func(t *testing.T) {
		s := NewMemoryStore()
		u, err := s.GetOrCreateUser(context.Background(), core.Identity{Subject: "sub-1"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var denied int
		attempts := u.QueriesLimit + 25
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.IncrementUsageWithLog(context.Background(), u.ID,
					&core.QueryLog{Success: true})
				if err != nil {
					mu.Lock()
					denied++
					mu.Unlock()
					assert.Equal(t, core.CodeQueryLimitExceeded, core.CodeOf(err))
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 25, denied)

		final, err := s.GetUser(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, final.QueriesLimit, final.QueriesUsed, "usage never exceeds the limit")

		logs, err := s.ListQueryLogs(context.Background(), u.ID, 0)
		require.NoError(t, err)
		assert.Len(t, logs, final.QueriesLimit, "denied increments write no log")
	})

	t.Run("Should cap and order query log listings", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s := NewMemoryStore().WithClock(func() time.Time { return now })
		u, err := s.GetOrCreateUser(context.Background(), core.Identity{Subject: "sub-1"})
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			now = now.Add(time.Minute)
			require.NoError(t, s.InsertQueryLog(context.Background(), &core.QueryLog{
				UserID: u.ID, UserInput: "query", Success: true,
			}))
		}
		logs, err := s.ListQueryLogs(context.Background(), u.ID, 3)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt), "newest first")
	})
}

func TestMemoryStore_Jobs(t *testing.T) {
	newJob := func(id string) *core.Job {
		return &core.Job{JobID: id, Status: core.JobQueued, Input: "work"}
	}

	t.Run("Should claim each queued job at most once", func(t *testing.T) {
		s := NewMemoryStore()
		for _, id := range []string{"job-1", "job-2", "job-3"} {
			require.NoError(t, s.CreateJob(context.Background(), newJob(id)))
		}

		claimed := make(chan string, 16)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := s.ClaimNextJob(context.Background())
					require.NoError(t, err)
					if job == nil {
						return
					}
					claimed <- job.JobID
				}
			}()
		}
		wg.Wait()
		close(claimed)

		seen := make(map[string]int)
		for id := range claimed {
			seen[id]++
		}
		assert.Len(t, seen, 3)
		for id, count := range seen {
			assert.Equal(t, 1, count, "job %s claimed more than once", id)
		}
	})

	t.Run("Should reject transitions from a stale state", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateJob(context.Background(), newJob("job-1")))
		_, err := s.ClaimNextJob(context.Background())
		require.NoError(t, err)

		_, err = s.TransitionJob(context.Background(), "job-1",
			core.JobQueued, core.JobProcessingStage1, JobUpdate{})
		assert.ErrorIs(t, err, ErrStateConflict)

		_, err = s.TransitionJob(context.Background(), "missing",
			core.JobQueued, core.JobProcessingStage1, JobUpdate{})
		assert.Equal(t, core.CodeJobNotFound, core.CodeOf(err))
	})

	t.Run("Should apply update fields on transition", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateJob(context.Background(), newJob("job-1")))
		_, err := s.ClaimNextJob(context.Background())
		require.NoError(t, err)

		stage1 := "optimized"
		job, err := s.TransitionJob(context.Background(), "job-1",
			core.JobProcessingStage1, core.JobProcessingStage2,
			JobUpdate{Stage1Output: &stage1})
		require.NoError(t, err)
		assert.Equal(t, "optimized", job.Stage1Output)

		final := "analysis"
		now := time.Now().UTC()
		job, err = s.TransitionJob(context.Background(), "job-1",
			core.JobProcessingStage2, core.JobCompleted,
			JobUpdate{FinalOutput: &final, CompletedAt: &now})
		require.NoError(t, err)
		assert.Equal(t, core.JobCompleted, job.Status)
		assert.Equal(t, "analysis", job.FinalOutput)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("Should sweep old terminal jobs and stale in-flight jobs", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s := NewMemoryStore().WithClock(func() time.Time { return now })

		require.NoError(t, s.CreateJob(context.Background(), newJob("old-done")))
		_, err := s.ClaimNextJob(context.Background())
		require.NoError(t, err)
		code := ""
		_, err = s.TransitionJob(context.Background(), "old-done",
			core.JobProcessingStage1, core.JobFailed, JobUpdate{ErrorCode: &code})
		require.NoError(t, err)

		require.NoError(t, s.CreateJob(context.Background(), newJob("stuck")))
		_, err = s.ClaimNextJob(context.Background())
		require.NoError(t, err)

		// A QUEUED row orphaned by a crashed instance goes stale too.
		require.NoError(t, s.CreateJob(context.Background(), newJob("orphan-queued")))

		now = now.Add(2 * time.Hour)
		require.NoError(t, s.CreateJob(context.Background(), newJob("fresh-queued")))

		result, err := s.SweepJobs(context.Background(), time.Hour, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Deleted)
		assert.Equal(t, 2, result.Staled)

		_, err = s.GetJob(context.Background(), "old-done")
		assert.Equal(t, core.CodeJobNotFound, core.CodeOf(err))

		for _, id := range []string{"stuck", "orphan-queued"} {
			job, err := s.GetJob(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, core.JobFailed, job.Status, id)
			assert.Equal(t, core.CodeStale, job.ErrorCode, id)
		}

		queued, err := s.GetJob(context.Background(), "fresh-queued")
		require.NoError(t, err)
		assert.Equal(t, core.JobQueued, queued.Status, "jobs within liveness stay queued")
	})
}
