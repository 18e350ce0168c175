package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/store"
)

const jobColumns = `job_id, owner_user_id, status, input, analysis_type,
	stage1_output, final_output, error_code, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*core.Job, error) {
	var j core.Job
	var owner *string
	err := row.Scan(&j.JobID, &owner, &j.Status, &j.Input, &j.AnalysisType,
		&j.Stage1Output, &j.FinalOutput, &j.ErrorCode,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		j.OwnerUserID = *owner
	}
	return &j, nil
}

// CreateJob persists a new job in QUEUED state.
func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	sql, args, err := s.sb.Insert("jobs").
		Columns("job_id", "owner_user_id", "status", "input", "analysis_type").
		Values(job.JobID, nullable(job.OwnerUserID), core.JobQueued, job.Input, job.AnalysisType).
		ToSql()
	if err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to build job insert", err)
	}
	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, execErr := s.db.Exec(ctx, sql, args...)
		return execErr
	})
	if err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to create job", err)
	}
	return nil
}

// ClaimNextJob atomically moves the oldest QUEUED job to PROCESSING_STAGE1.
// SKIP LOCKED lets concurrent workers race without blocking; each job is won
// by exactly one of them.
func (s *Store) ClaimNextJob(ctx context.Context) (*core.Job, error) {
	const sql = `
		UPDATE jobs SET status = $1, updated_at = now()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var job *core.Job
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		job, scanErr = scanJob(s.db.QueryRow(ctx, sql, core.JobProcessingStage1, core.JobQueued))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to claim job", err)
	}
	return job, nil
}

// TransitionJob applies a conditional status transition. The WHERE clause on
// the current status makes lost races visible as zero updated rows.
func (s *Store) TransitionJob(
	ctx context.Context,
	jobID string,
	from, to core.JobStatus,
	update store.JobUpdate,
) (*core.Job, error) {
	if !from.CanTransitionTo(to) {
		return nil, core.NewError(core.CodeInternalServerError,
			"invalid job status transition")
	}
	builder := s.sb.Update("jobs").
		Set("status", to).
		Set("updated_at", squirrel.Expr("now()")).
		Where("job_id = ? AND status = ?", jobID, from).
		Suffix("RETURNING " + jobColumns)
	if update.Stage1Output != nil {
		builder = builder.Set("stage1_output", *update.Stage1Output)
	}
	if update.FinalOutput != nil {
		builder = builder.Set("final_output", *update.FinalOutput)
	}
	if update.ErrorCode != nil {
		builder = builder.Set("error_code", *update.ErrorCode)
	}
	if update.CompletedAt != nil {
		builder = builder.Set("completed_at", *update.CompletedAt)
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build job transition", err)
	}

	var job *core.Job
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		job, scanErr = scanJob(s.db.QueryRow(ctx, sql, args...))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		if _, lookupErr := s.GetJob(ctx, jobID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, store.ErrStateConflict
	}
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to transition job", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	sql, args, err := s.sb.Select(jobColumns).
		From("jobs").
		Where("job_id = ?", jobID).
		ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build job query", err)
	}

	var job *core.Job
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		job, scanErr = scanJob(s.db.QueryRow(ctx, sql, args...))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewError(core.CodeJobNotFound, "job not found")
	}
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to fetch job", err)
	}
	return job, nil
}

// SweepJobs deletes terminal jobs past retention and fails non-terminal jobs
// not updated within liveness. QUEUED rows are included: a queue orphaned by a
// crashed instance must not accumulate forever.
func (s *Store) SweepJobs(ctx context.Context, retention, liveness time.Duration) (store.SweepResult, error) {
	var result store.SweepResult
	err := s.withRetry(ctx, func(ctx context.Context) error {
		deleteTag, err := s.db.Exec(ctx, `
			DELETE FROM jobs
			WHERE status IN ($1, $2) AND updated_at < now() - make_interval(secs => $3)`,
			core.JobCompleted, core.JobFailed, retention.Seconds())
		if err != nil {
			return err
		}
		staleTag, err := s.db.Exec(ctx, `
			UPDATE jobs
			SET status = $1, error_code = $2, updated_at = now()
			WHERE status IN ($3, $4, $5) AND updated_at < now() - make_interval(secs => $6)`,
			core.JobFailed, core.CodeStale,
			core.JobQueued, core.JobProcessingStage1, core.JobProcessingStage2, liveness.Seconds())
		if err != nil {
			return err
		}
		result.Deleted = int(deleteTag.RowsAffected())
		result.Staled = int(staleTag.RowsAffected())
		return nil
	})
	if err != nil {
		return store.SweepResult{}, core.WrapError(core.CodeDatabaseError, "failed to sweep jobs", err)
	}
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
