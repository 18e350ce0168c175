package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/store"
	"github.com/pluginmind/pluginmind/engine/orchestrator"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/config"
)

type pipelineService struct {
	descriptor registry.Descriptor
	reply      string
	err        error
	gate       chan struct{}
	calls      atomic.Int32
}

func (s *pipelineService) Invoke(ctx context.Context, _ string, _ registry.InvokeOptions) (*registry.Result, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &registry.Result{Content: s.reply}, nil
}

func (s *pipelineService) Health(context.Context) bool   { return true }
func (s *pipelineService) Capabilities() []string        { return nil }
func (s *pipelineService) Metadata() registry.Descriptor { return s.descriptor }

func newPipelineService(id string, serviceTypes []string, reply string) *pipelineService {
	return &pipelineService{
		reply: reply,
		descriptor: registry.Descriptor{
			ID:           id,
			Provider:     "test",
			Model:        "test-model",
			Priority:     1,
			ServiceTypes: serviceTypes,
			Available:    true,
		},
	}
}

type managerFixture struct {
	manager   *Manager
	store     *store.MemoryStore
	optimizer *pipelineService
	analyzer  *pipelineService
	userID    string
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Workers:       2,
		QueueSize:     8,
		Retention:     time.Hour,
		Liveness:      10 * time.Minute,
		SweepInterval: time.Hour,
	}
}

func newManagerFixture(t *testing.T, cfg config.JobsConfig) *managerFixture {
	t.Helper()
	reg := registry.New()
	optimizer := newPipelineService("opt-1", []string{registry.TypePromptOptimizer}, "optimized")
	analyzer := newPipelineService("ana-1", []string{registry.TypeAnalyzer}, "analysis")
	require.NoError(t, reg.Register(optimizer.descriptor.ID, optimizer, optimizer.descriptor))
	require.NoError(t, reg.Register(analyzer.descriptor.ID, analyzer, analyzer.descriptor))

	st := store.NewMemoryStore()
	user, err := st.GetOrCreateUser(context.Background(), core.Identity{
		Subject: "sub-1", Email: "user@example.com",
	})
	require.NoError(t, err)

	m := NewManager(st, orchestrator.New(reg, st, 5000), cfg)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return &managerFixture{
		manager:   m,
		store:     st,
		optimizer: optimizer,
		analyzer:  analyzer,
		userID:    user.ID,
	}
}

func (f *managerFixture) waitForStatus(t *testing.T, jobID string, want core.JobStatus) *core.Job {
	t.Helper()
	var job *core.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 3*time.Second, 10*time.Millisecond, "job never reached %s", want)
	return job
}

func TestManager(t *testing.T) {
	t.Run("Should process a submitted job through to completion", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		job, err := f.manager.Submit(context.Background(), f.userID, "analyze BTC", core.AnalysisCrypto)
		require.NoError(t, err)
		assert.Equal(t, core.JobQueued, job.Status)

		done := f.waitForStatus(t, job.JobID, core.JobCompleted)
		assert.Equal(t, "optimized", done.Stage1Output)
		assert.Equal(t, "analysis", done.FinalOutput)
		assert.NotNil(t, done.CompletedAt)

		user, err := f.store.GetUser(context.Background(), f.userID)
		require.NoError(t, err)
		assert.Equal(t, 1, user.QueriesUsed)
	})

	t.Run("Should mark the job FAILED with the pipeline error code", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		f.analyzer.err = core.NewError(core.CodeAIServiceError, "analyzer down")

		job, err := f.manager.Submit(context.Background(), f.userID, "analyze BTC", core.AnalysisCrypto)
		require.NoError(t, err)

		failed := f.waitForStatus(t, job.JobID, core.JobFailed)
		assert.Equal(t, core.CodeAIServiceError, failed.ErrorCode)
		assert.Equal(t, "optimized", failed.Stage1Output, "stage one output survives the failure")
	})

	t.Run("Should reject submissions beyond the queue bound", func(t *testing.T) {
		cfg := testJobsConfig()
		cfg.QueueSize = 2
		f := newManagerFixture(t, cfg)
		f.optimizer.gate = make(chan struct{})

		var submitted int
		var lastErr error
		for i := 0; i < 10; i++ {
			_, err := f.manager.Submit(context.Background(), f.userID, "queued work", core.AnalysisCustom)
			if err != nil {
				lastErr = err
				break
			}
			submitted++
		}
		require.Error(t, lastErr)
		assert.Equal(t, core.CodeServiceUnavailable, core.CodeOf(lastErr))
		assert.LessOrEqual(t, submitted, cfg.QueueSize+cfg.Workers)
		close(f.optimizer.gate)
	})

	t.Run("Should cancel a queued job before a worker claims it", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		f.optimizer.gate = make(chan struct{})
		defer close(f.optimizer.gate)

		// First job occupies both workers' attention; queue a second and cancel it.
		_, err := f.manager.Submit(context.Background(), f.userID, "busy work", core.AnalysisCustom)
		require.NoError(t, err)
		_, err = f.manager.Submit(context.Background(), f.userID, "busy work 2", core.AnalysisCustom)
		require.NoError(t, err)
		victim, err := f.manager.Submit(context.Background(), f.userID, "cancel me", core.AnalysisCustom)
		require.NoError(t, err)

		cancelled, err := f.manager.Cancel(context.Background(), victim.JobID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, core.JobFailed, cancelled.Status)
		assert.Equal(t, core.CodeCancelled, cancelled.ErrorCode)
	})

	t.Run("Should drop the result of a job cancelled mid-stage", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		f.analyzer.gate = make(chan struct{})

		job, err := f.manager.Submit(context.Background(), f.userID, "analyze BTC", core.AnalysisCrypto)
		require.NoError(t, err)
		f.waitForStatus(t, job.JobID, core.JobProcessingStage2)

		cancelled, err := f.manager.Cancel(context.Background(), job.JobID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, core.JobFailed, cancelled.Status)

		close(f.analyzer.gate)
		// The worker's completion transition loses the race and the terminal
		// state stays FAILED/CANCELLED.
		time.Sleep(100 * time.Millisecond)
		final, err := f.store.GetJob(context.Background(), job.JobID)
		require.NoError(t, err)
		assert.Equal(t, core.JobFailed, final.Status)
		assert.Equal(t, core.CodeCancelled, final.ErrorCode)
	})

	t.Run("Should refuse cancelling a terminal job", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		job, err := f.manager.Submit(context.Background(), f.userID, "analyze BTC", core.AnalysisCrypto)
		require.NoError(t, err)
		f.waitForStatus(t, job.JobID, core.JobCompleted)

		_, err = f.manager.Cancel(context.Background(), job.JobID, f.userID)
		require.Error(t, err)
		assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
	})

	t.Run("Should hide jobs from other owners", func(t *testing.T) {
		f := newManagerFixture(t, testJobsConfig())
		f.optimizer.gate = make(chan struct{})
		defer close(f.optimizer.gate)

		job, err := f.manager.Submit(context.Background(), f.userID, "private work", core.AnalysisCustom)
		require.NoError(t, err)

		_, err = f.manager.Get(context.Background(), job.JobID, "someone-else")
		require.Error(t, err)
		assert.Equal(t, core.CodeJobNotFound, core.CodeOf(err))

		got, err := f.manager.Get(context.Background(), job.JobID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, job.JobID, got.JobID)
	})

	t.Run("Should process each job exactly once across workers", func(t *testing.T) {
		cfg := testJobsConfig()
		cfg.Workers = 4
		cfg.QueueSize = 64
		f := newManagerFixture(t, cfg)

		const jobCount = 20
		ids := make([]string, 0, jobCount)
		for i := 0; i < jobCount; i++ {
			job, err := f.manager.Submit(context.Background(), f.userID, "bulk work", core.AnalysisCustom)
			require.NoError(t, err)
			ids = append(ids, job.JobID)
		}
		for _, id := range ids {
			f.waitForStatus(t, id, core.JobCompleted)
		}
		assert.Equal(t, int32(jobCount), f.optimizer.calls.Load(),
			"each job runs the optimizer exactly once")
		user, err := f.store.GetUser(context.Background(), f.userID)
		require.NoError(t, err)
		assert.Equal(t, jobCount, user.QueriesUsed)
	})
}
