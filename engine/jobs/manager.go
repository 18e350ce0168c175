package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/store"
	"github.com/pluginmind/pluginmind/engine/orchestrator"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// pollInterval bounds how long a queued job can wait when the wake signal is
// missed (e.g. jobs persisted before a restart).
const pollInterval = 5 * time.Second

// Manager runs the async pipeline: jobs are persisted on submit, claimed by a
// bounded worker pool, and advanced through the monotonic status machine with
// every transition written through the store.
type Manager struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	cfg          config.JobsConfig

	wake    chan struct{}
	pending atomic.Int64
	active  atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewManager creates a job manager over the given store and pipeline.
func NewManager(st store.Store, orch *orchestrator.Orchestrator, cfg config.JobsConfig) *Manager {
	return &Manager{
		store:        st,
		orchestrator: orch,
		cfg:          cfg,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker pool and the retention sweeper.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.wg.Add(1)
	go m.sweeper(ctx)
	// Jobs queued before a restart have no wake signal; kick once.
	m.signal()
}

// Stop cancels the workers and waits for in-flight jobs to finish their
// current transition.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}

// Submit persists a new QUEUED job and wakes the pool. The backlog is bounded
// by the configured queue size; beyond it submission fails with
// SERVICE_UNAVAILABLE rather than queueing unbounded work.
func (m *Manager) Submit(ctx context.Context, userID, input string, analysisType core.AnalysisType) (*core.Job, error) {
	if m.pending.Load() >= int64(m.cfg.QueueSize) {
		return nil, core.NewError(core.CodeServiceUnavailable, "job queue is full")
	}
	job := &core.Job{
		JobID:        uuid.NewString(),
		OwnerUserID:  userID,
		Status:       core.JobQueued,
		Input:        input,
		AnalysisType: string(core.NormalizeAnalysisType(string(analysisType))),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to persist job", err)
	}
	m.pending.Add(1)
	m.signal()
	logger.FromContext(ctx).Info("Job submitted",
		"job_id", job.JobID, "analysis_type", job.AnalysisType)
	return job, nil
}

// Get returns a job visible to the given owner. Jobs owned by other users
// are indistinguishable from missing ones.
func (m *Manager) Get(ctx context.Context, jobID, userID string) (*core.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != "" && job.OwnerUserID != userID {
		return nil, core.NewError(core.CodeJobNotFound, "job not found")
	}
	return job, nil
}

// Cancel marks a non-terminal job FAILED with the CANCELLED reason. The
// cancellation is advisory: a worker mid-stage discovers it at its next
// conditional transition and stops.
func (m *Manager) Cancel(ctx context.Context, jobID, userID string) (*core.Job, error) {
	job, err := m.Get(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, core.NewError(core.CodeInvalidInput, "job is already in a terminal state")
	}
	now := time.Now().UTC()
	reason := core.CodeCancelled
	cancelled, err := m.store.TransitionJob(ctx, jobID, job.Status, core.JobFailed, store.JobUpdate{
		ErrorCode:   &reason,
		CompletedAt: &now,
	})
	if errors.Is(err, store.ErrStateConflict) {
		// The worker advanced the job first; report the fresh state.
		return m.Get(ctx, jobID, userID)
	}
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("Job cancelled", "job_id", jobID)
	return cancelled, nil
}

// ActiveJobs reports how many jobs are currently being processed.
func (m *Manager) ActiveJobs() int64 {
	return m.active.Load()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.drain(ctx)
	}
}

// drain claims queued jobs until the store is empty. At most one worker wins
// each claim; losers simply see an empty queue.
func (m *Manager) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNextJob(ctx)
		if err != nil {
			logger.FromContext(ctx).Error("Failed to claim next job", "error", err)
			return
		}
		if job == nil {
			return
		}
		m.pending.Add(-1)
		m.run(ctx, job)
	}
}

func (m *Manager) run(ctx context.Context, job *core.Job) {
	m.active.Add(1)
	defer m.active.Add(-1)
	log := logger.FromContext(ctx).With("job_id", job.JobID)
	log.Info("Job processing started", "analysis_type", job.AnalysisType)

	outcome, err := m.orchestrator.Process(ctx, orchestrator.Request{
		UserID:       job.OwnerUserID,
		Input:        job.Input,
		AnalysisType: core.AnalysisType(job.AnalysisType),
		OnStageComplete: func(ctx context.Context, stage int, output string) error {
			if stage != orchestrator.StageOptimize {
				return nil
			}
			_, err := m.store.TransitionJob(ctx, job.JobID,
				core.JobProcessingStage1, core.JobProcessingStage2,
				store.JobUpdate{Stage1Output: &output})
			return err
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			log.Info("Job was cancelled mid-stage; dropping result")
			return
		}
		m.fail(ctx, job.JobID, core.CodeOf(err))
		log.Warn("Job failed", "error", err)
		return
	}

	now := time.Now().UTC()
	_, err = m.store.TransitionJob(ctx, job.JobID,
		core.JobProcessingStage2, core.JobCompleted, store.JobUpdate{
			FinalOutput: &outcome.Analysis,
			CompletedAt: &now,
		})
	switch {
	case errors.Is(err, store.ErrStateConflict):
		log.Info("Job was cancelled before completion; dropping result")
	case err != nil:
		log.Error("Failed to persist job completion", "error", err)
	default:
		log.Info("Job completed", "latency_ms", outcome.LatencyMS)
	}
}

// fail moves a job to FAILED from whichever processing state it is in. A
// conflict means the job already reached a terminal state.
func (m *Manager) fail(ctx context.Context, jobID, code string) {
	now := time.Now().UTC()
	update := store.JobUpdate{ErrorCode: &code, CompletedAt: &now}
	for _, from := range []core.JobStatus{core.JobProcessingStage2, core.JobProcessingStage1} {
		_, err := m.store.TransitionJob(ctx, jobID, from, core.JobFailed, update)
		if err == nil || !errors.Is(err, store.ErrStateConflict) {
			return
		}
	}
}

func (m *Manager) sweeper(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := m.store.SweepJobs(ctx, m.cfg.Retention, m.cfg.Liveness)
			if err != nil {
				logger.FromContext(ctx).Error("Job sweep failed", "error", err)
				continue
			}
			if result.Deleted > 0 || result.Staled > 0 {
				logger.FromContext(ctx).Info("Job sweep completed",
					"deleted", result.Deleted, "staled", result.Staled)
			}
		}
	}
}
