package core

import (
	"strings"
	"time"
)

// Tier is the subscription level attached to a user account.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// User is the identity record auto-provisioned on first authenticated call.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	ExternalID   string    `json:"external_id,omitempty"`
	Tier         Tier      `json:"tier"`
	QueriesUsed  int       `json:"queries_used"`
	QueriesLimit int       `json:"queries_limit"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity carries the verified token claims used to look up or provision a
// user.
type Identity struct {
	Subject string
	Email   string
}

// QueryLog is the append-only audit record for completed pipeline runs.
type QueryLog struct {
	UserID          string    `json:"user_id"`
	UserInput       string    `json:"user_input"`
	OptimizedPrompt string    `json:"optimized_prompt"`
	Result          string    `json:"result"`
	LatencyMS       int64     `json:"latency_ms"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// JobStatus is the async job state machine tag.
type JobStatus string

const (
	JobQueued           JobStatus = "QUEUED"
	JobProcessingStage1 JobStatus = "PROCESSING_STAGE1"
	JobProcessingStage2 JobStatus = "PROCESSING_STAGE2"
	JobCompleted        JobStatus = "COMPLETED"
	JobFailed           JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo enforces the monotonic job state machine: forward along the
// happy path, FAILED reachable from any non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobFailed {
		return true
	}
	switch s {
	case JobQueued:
		return next == JobProcessingStage1
	case JobProcessingStage1:
		return next == JobProcessingStage2
	case JobProcessingStage2:
		return next == JobCompleted
	default:
		return false
	}
}

// Job is the async work item persisted by the job manager.
type Job struct {
	JobID        string     `json:"job_id"`
	OwnerUserID  string     `json:"owner_user_id,omitempty"`
	Status       JobStatus  `json:"status"`
	Input        string     `json:"input"`
	AnalysisType string     `json:"analysis_type"`
	Stage1Output string     `json:"stage1_output,omitempty"`
	FinalOutput  string     `json:"final_output,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AnalysisType selects the prompt template pair and the analyzer service.
type AnalysisType string

const (
	AnalysisDocument AnalysisType = "document"
	AnalysisChat     AnalysisType = "chat"
	AnalysisSEO      AnalysisType = "seo"
	AnalysisCrypto   AnalysisType = "crypto"
	AnalysisCustom   AnalysisType = "custom"
)

// NormalizeAnalysisType maps arbitrary input to a known tag, falling back to
// the custom escape hatch rather than erroring.
func NormalizeAnalysisType(raw string) AnalysisType {
	switch AnalysisType(strings.ToLower(strings.TrimSpace(raw))) {
	case AnalysisDocument:
		return AnalysisDocument
	case AnalysisChat:
		return AnalysisChat
	case AnalysisSEO:
		return AnalysisSEO
	case AnalysisCrypto:
		return AnalysisCrypto
	default:
		return AnalysisCustom
	}
}
