package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/server/router"
	"github.com/pluginmind/pluginmind/engine/orchestrator"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/version"
)

const queryLogPageSize = 50

type analysisRequest struct {
	UserInput    string `json:"user_input"`
	AnalysisType string `json:"analysis_type"`
}

type analysisResponse struct {
	AnalysisType    string                `json:"analysis_type"`
	OptimizedPrompt string                `json:"optimized_prompt"`
	AnalysisResult  string                `json:"analysis_result"`
	ServicesUsed    servicesUsed          `json:"services_used"`
	Usage           registry.Usage        `json:"usage"`
	LatencyMS       int64                 `json:"latency_ms"`
	Quota           quotaInfo             `json:"quota"`
}

type servicesUsed struct {
	PromptOptimizer orchestrator.ServiceRef `json:"prompt_optimizer"`
	Analyzer        orchestrator.ServiceRef `json:"analyzer"`
}

type quotaInfo struct {
	QueriesUsed  int `json:"queries_used"`
	QueriesLimit int `json:"queries_limit"`
}

type jobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message,omitempty"`
}

type jobResult struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	AnalysisType    string     `json:"analysis_type"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	OptimizedPrompt string     `json:"optimized_prompt,omitempty"`
	Analysis        string     `json:"analysis,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func jobResultFrom(job *core.Job) jobResult {
	return jobResult{
		JobID:           job.JobID,
		Status:          string(job.Status),
		AnalysisType:    job.AnalysisType,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
		OptimizedPrompt: job.Stage1Output,
		Analysis:        job.FinalOutput,
		Error:           job.ErrorCode,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := s.deps.Store.HealthCheck(ctx) == nil
	optimizerUp := s.deps.Registry.HasHealthyService(registry.TypePromptOptimizer)
	analyzerUp := s.deps.Registry.HasHealthyService(registry.TypeAnalyzer)

	// Always 200: a degraded instance can still serve fallback paths, and load
	// balancers evict on /ready instead.
	status := "healthy"
	if !dbHealthy || !optimizerUp || !analyzerUp {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":                      status,
		"database":                    dbHealthy,
		"prompt_optimizer_available":  optimizerUp,
		"analyzer_available":          analyzerUp,
		"registered_services":         s.deps.Registry.Len(),
		"active_jobs":                 s.deps.Jobs.ActiveJobs(),
	})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReady(c *gin.Context) {
	if err := s.deps.Store.HealthCheck(c.Request.Context()); err != nil {
		router.RespondError(c, core.NewError(core.CodeServiceUnavailable,
			"service is not ready"))
		return
	}
	if !s.deps.Registry.HasHealthyService(registry.TypeAnalyzer) {
		router.RespondError(c, core.NewError(core.CodeServiceUnavailable,
			"no analyzer service available"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func (s *Server) handleListServices(c *gin.Context) {
	descriptors := s.deps.Registry.List()
	c.JSON(http.StatusOK, gin.H{
		"total_services":      len(descriptors),
		"registered_services": descriptors,
	})
}

func (s *Server) handleServicesHealth(c *gin.Context) {
	results := s.deps.Registry.HealthCheckAll(c.Request.Context(), s.deps.ProbeTimeout)
	healthy := 0
	for _, ok := range results {
		if ok {
			healthy++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"service_health":   results,
		"services_total":   len(results),
		"services_healthy": healthy,
	})
}

func (s *Server) handleProcess(c *gin.Context) {
	user, _ := CurrentUser(c)
	req, ok := s.bindAnalysisRequest(c)
	if !ok {
		return
	}
	outcome, err := s.deps.Orchestrator.Process(c.Request.Context(), orchestrator.Request{
		UserID:       user.ID,
		Input:        req.UserInput,
		AnalysisType: core.AnalysisType(req.AnalysisType),
	})
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysisResponse{
		AnalysisType:    string(outcome.AnalysisType),
		OptimizedPrompt: outcome.OptimizedPrompt,
		AnalysisResult:  outcome.Analysis,
		ServicesUsed: servicesUsed{
			PromptOptimizer: outcome.Optimizer,
			Analyzer:        outcome.Analyzer,
		},
		Usage:     outcome.Usage,
		LatencyMS: outcome.LatencyMS,
		Quota: quotaInfo{
			QueriesUsed:  outcome.User.QueriesUsed,
			QueriesLimit: outcome.User.QueriesLimit,
		},
	})
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	user, _ := CurrentUser(c)
	req, ok := s.bindAnalysisRequest(c)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.Submit(c.Request.Context(), user.ID, req.UserInput,
		core.AnalysisType(req.AnalysisType))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobResponse{
		JobID:     job.JobID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Message:   "Analysis started. Use the job_id to check status.",
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	user, _ := CurrentUser(c)
	jobID, ok := s.bindJobID(c)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.Get(c.Request.Context(), jobID, user.ID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResultFrom(job))
}

func (s *Server) handleCancelJob(c *gin.Context) {
	user, _ := CurrentUser(c)
	jobID, ok := s.bindJobID(c)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.Cancel(c.Request.Context(), jobID, user.ID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResultFrom(job))
}

func (s *Server) handleMe(c *gin.Context) {
	user, _ := CurrentUser(c)
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleMyUsage(c *gin.Context) {
	user, _ := CurrentUser(c)
	remaining := user.QueriesLimit - user.QueriesUsed
	if remaining < 0 {
		remaining = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"tier":              user.Tier,
		"queries_used":      user.QueriesUsed,
		"queries_limit":     user.QueriesLimit,
		"queries_remaining": remaining,
	})
}

func (s *Server) handleMyQueries(c *gin.Context) {
	user, _ := CurrentUser(c)
	logs, err := s.deps.Store.ListQueryLogs(c.Request.Context(), user.ID, queryLogPageSize)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_logs": len(logs),
		"logs":       logs,
	})
}

func (s *Server) bindAnalysisRequest(c *gin.Context) (analysisRequest, bool) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			router.RespondError(c, core.NewError(core.CodeRequestTooLarge,
				"request body too large"))
			return analysisRequest{}, false
		}
		router.RespondError(c, core.NewError(core.CodeInvalidInput,
			"request body must be valid JSON"))
		return analysisRequest{}, false
	}
	return req, true
}

func (s *Server) bindJobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	parsed, err := uuid.Parse(jobID)
	if err != nil || parsed.Version() != 4 {
		router.RespondError(c, core.NewError(core.CodeInvalidInput,
			"job_id must be a valid UUID"))
		return "", false
	}
	return jobID, true
}
