package store

import (
	"context"
	"errors"
	"time"

	"github.com/pluginmind/pluginmind/engine/core"
)

// ErrStateConflict is returned by TransitionJob when the job exists but is no
// longer in the expected from state. Callers treat it as a lost race, not a
// failure.
var ErrStateConflict = errors.New("job not in expected state")

// JobUpdate carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type JobUpdate struct {
	Stage1Output *string
	FinalOutput  *string
	ErrorCode    *string
	CompletedAt  *time.Time
}

// SweepResult reports the outcome of one retention sweep.
type SweepResult struct {
	Deleted int
	Staled  int
}

// Store is the persistence port for users, query logs, and async jobs.
// Implementations must make IncrementUsageWithLog, ClaimNextJob, and
// TransitionJob atomic so that concurrent workers and requests observe a
// consistent state.
type Store interface {
	// GetOrCreateUser resolves a verified identity to a user record,
	// provisioning a free-tier account on first contact.
	GetOrCreateUser(ctx context.Context, identity core.Identity) (*core.User, error)

	// GetUser fetches a user by internal id.
	GetUser(ctx context.Context, userID string) (*core.User, error)

	// IncrementUsageWithLog consumes one quota unit and appends the query log
	// in a single atomic step. When the quota is already exhausted it returns
	// QUERY_LIMIT_EXCEEDED and writes nothing.
	IncrementUsageWithLog(ctx context.Context, userID string, entry *core.QueryLog) (*core.User, error)

	// InsertQueryLog appends an audit record without touching quota. Used for
	// failed runs.
	InsertQueryLog(ctx context.Context, entry *core.QueryLog) error

	// ListQueryLogs returns the newest query logs for a user, capped at limit.
	ListQueryLogs(ctx context.Context, userID string, limit int) ([]core.QueryLog, error)

	// CreateJob persists a new job in QUEUED state.
	CreateJob(ctx context.Context, job *core.Job) error

	// ClaimNextJob atomically moves the oldest QUEUED job to
	// PROCESSING_STAGE1 and returns it. Returns (nil, nil) when the queue is
	// empty. At most one caller can claim a given job.
	ClaimNextJob(ctx context.Context) (*core.Job, error)

	// TransitionJob applies a conditional status transition: the write
	// succeeds only if the job is currently in the from state. A missing job
	// returns JOB_NOT_FOUND; a state mismatch returns ErrStateConflict.
	TransitionJob(ctx context.Context, jobID string, from, to core.JobStatus, update JobUpdate) (*core.Job, error)

	// GetJob fetches a job by id.
	GetJob(ctx context.Context, jobID string) (*core.Job, error)

	// SweepJobs deletes terminal jobs older than retention and fails
	// in-flight jobs not updated within liveness, marking them STALE.
	SweepJobs(ctx context.Context, retention, liveness time.Duration) (SweepResult, error)

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections.
	Close()
}
