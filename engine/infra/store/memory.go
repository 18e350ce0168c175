package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pluginmind/pluginmind/engine/core"
)

const freeTierQueryLimit = 100

// MemoryStore is an in-process Store used by tests and local tooling. It
// honors the same atomicity contracts as the Postgres store under a single
// mutex.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]*core.User // keyed by internal id
	bySubject map[string]string     // external subject -> internal id
	logs      []core.QueryLog
	jobs      map[string]*core.Job
	clock     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*core.User),
		bySubject: make(map[string]string),
		jobs:      make(map[string]*core.Job),
		clock:     time.Now,
	}
}

// WithClock overrides the time source for sweep tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, identity core.Identity) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySubject[identity.Subject]; ok {
		u := *s.users[id]
		return &u, nil
	}
	u := &core.User{
		ID:           uuid.NewString(),
		Email:        identity.Email,
		ExternalID:   identity.Subject,
		Tier:         core.TierFree,
		QueriesLimit: freeTierQueryLimit,
		Active:       true,
		CreatedAt:    s.clock().UTC(),
	}
	s.users[u.ID] = u
	s.bySubject[identity.Subject] = u.ID
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, core.NewError(core.CodeUserNotFound, "user not found")
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) IncrementUsageWithLog(_ context.Context, userID string, entry *core.QueryLog) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, core.NewError(core.CodeUserNotFound, "user not found")
	}
	if u.QueriesUsed >= u.QueriesLimit {
		return nil, core.NewError(core.CodeQueryLimitExceeded, "query limit exceeded")
	}
	u.QueriesUsed++
	logged := *entry
	logged.UserID = userID
	if logged.CreatedAt.IsZero() {
		logged.CreatedAt = s.clock().UTC()
	}
	s.logs = append(s.logs, logged)
	out := *u
	return &out, nil
}

func (s *MemoryStore) InsertQueryLog(_ context.Context, entry *core.QueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logged := *entry
	if logged.CreatedAt.IsZero() {
		logged.CreatedAt = s.clock().UTC()
	}
	s.logs = append(s.logs, logged)
	return nil
}

func (s *MemoryStore) ListQueryLogs(_ context.Context, userID string, limit int) ([]core.QueryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.QueryLog
	for _, entry := range s.logs {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *job
	now := s.clock().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.jobs[stored.JobID] = &stored
	return nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *core.Job
	for _, job := range s.jobs {
		if job.Status != core.JobQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = core.JobProcessingStage1
	oldest.UpdatedAt = s.clock().UTC()
	out := *oldest
	return &out, nil
}

func (s *MemoryStore) TransitionJob(
	_ context.Context,
	jobID string,
	from, to core.JobStatus,
	update JobUpdate,
) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, core.NewError(core.CodeJobNotFound, "job not found")
	}
	if job.Status != from {
		return nil, ErrStateConflict
	}
	job.Status = to
	job.UpdatedAt = s.clock().UTC()
	if update.Stage1Output != nil {
		job.Stage1Output = *update.Stage1Output
	}
	if update.FinalOutput != nil {
		job.FinalOutput = *update.FinalOutput
	}
	if update.ErrorCode != nil {
		job.ErrorCode = *update.ErrorCode
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	out := *job
	return &out, nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, core.NewError(core.CodeJobNotFound, "job not found")
	}
	out := *job
	return &out, nil
}

func (s *MemoryStore) SweepJobs(_ context.Context, retention, liveness time.Duration) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	var result SweepResult
	for id, job := range s.jobs {
		switch {
		case job.Status.Terminal() && now.Sub(job.UpdatedAt) > retention:
			delete(s.jobs, id)
			result.Deleted++
		case !job.Status.Terminal() && now.Sub(job.UpdatedAt) > liveness:
			job.Status = core.JobFailed
			job.ErrorCode = core.CodeStale
			job.UpdatedAt = now
			result.Staled++
		}
	}
	return result, nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
