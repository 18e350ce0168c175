package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/store"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// Pipeline stage identifiers passed to the progress hook.
const (
	StageOptimize = 1
	StageAnalyze  = 2
)

// Request is one pipeline run for an authenticated user.
type Request struct {
	UserID       string
	Input        string
	AnalysisType core.AnalysisType
	// OnStageComplete, when set, is invoked after each stage with its output.
	// A hook error aborts the run; the async job manager uses it to persist
	// stage transitions and to stop cancelled jobs.
	OnStageComplete func(ctx context.Context, stage int, output string) error
}

// ServiceRef identifies the plugin that served a pipeline stage.
type ServiceRef struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Outcome is the result of a completed pipeline run.
type Outcome struct {
	AnalysisType    core.AnalysisType `json:"analysis_type"`
	OptimizedPrompt string            `json:"optimized_prompt"`
	Analysis        string            `json:"analysis"`
	Usage           registry.Usage    `json:"usage"`
	Optimizer       ServiceRef        `json:"optimizer"`
	Analyzer        ServiceRef        `json:"analyzer"`
	LatencyMS       int64             `json:"latency_ms"`
	// User carries the post-increment quota counters.
	User *core.User `json:"-"`
}

// Orchestrator drives the two-stage pipeline: prompt optimization, then
// analysis, with quota accounting around both.
type Orchestrator struct {
	registry       *registry.Registry
	store          store.Store
	maxInputLength int
	clock          func() time.Time
}

// New creates a pipeline orchestrator.
func New(reg *registry.Registry, st store.Store, maxInputLength int) *Orchestrator {
	return &Orchestrator{
		registry:       reg,
		store:          st,
		maxInputLength: maxInputLength,
		clock:          time.Now,
	}
}

// Process runs the full pipeline for one request. The quota unit is consumed
// only on success, atomically with the audit log; failed runs are logged
// without touching quota.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Outcome, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, core.NewError(core.CodeInvalidInput, "user input must not be empty")
	}
	if utf8.RuneCountInString(input) > o.maxInputLength {
		return nil, core.NewError(core.CodeInvalidInput,
			fmt.Sprintf("user input exceeds the %d character limit", o.maxInputLength))
	}

	user, err := o.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, core.NewError(core.CodeUserAccessFailed, "user account is inactive")
	}
	if user.QueriesUsed >= user.QueriesLimit {
		return nil, core.NewError(core.CodeQueryLimitExceeded, "query limit exceeded")
	}

	analysisType := core.NormalizeAnalysisType(string(req.AnalysisType))
	start := o.clock()
	outcome, err := o.runStages(ctx, input, analysisType, req.OnStageComplete)
	latency := o.clock().Sub(start).Milliseconds()
	log := logger.FromContext(ctx)

	if err != nil {
		// A lost state transition means the caller cancelled the run; that is
		// not a pipeline failure and does not belong in the audit trail.
		if errors.Is(err, store.ErrStateConflict) {
			log.Info("Pipeline run abandoned after cancellation",
				"user_id", req.UserID, "latency_ms", latency)
			return nil, err
		}
		entry := &core.QueryLog{
			UserID:       req.UserID,
			UserInput:    input,
			LatencyMS:    latency,
			Success:      false,
			ErrorMessage: core.SafeMessage(err),
		}
		if outcome != nil {
			entry.OptimizedPrompt = outcome.OptimizedPrompt
		}
		if logErr := o.store.InsertQueryLog(ctx, entry); logErr != nil {
			log.Error("Failed to record failed pipeline run", "error", logErr)
		}
		log.Warn("Pipeline run failed", "user_id", req.UserID,
			"analysis_type", analysisType, "latency_ms", latency, "error", err)
		return nil, err
	}

	outcome.AnalysisType = analysisType
	outcome.LatencyMS = latency
	updated, err := o.store.IncrementUsageWithLog(ctx, req.UserID, &core.QueryLog{
		UserID:          req.UserID,
		UserInput:       input,
		OptimizedPrompt: outcome.OptimizedPrompt,
		Result:          outcome.Analysis,
		LatencyMS:       latency,
		Success:         true,
	})
	if err != nil {
		return nil, err
	}
	outcome.User = updated

	log.Info("Pipeline run completed", "user_id", req.UserID,
		"analysis_type", analysisType, "latency_ms", latency,
		"optimizer", outcome.Optimizer.ID, "analyzer", outcome.Analyzer.ID,
		"total_tokens", outcome.Usage.TotalTokens)
	return outcome, nil
}

func (o *Orchestrator) runStages(
	ctx context.Context,
	input string,
	analysisType core.AnalysisType,
	onStageComplete func(ctx context.Context, stage int, output string) error,
) (*Outcome, error) {
	outcome := &Outcome{}

	optimized, optimizer, usage, err := o.invokeStage(ctx,
		registry.TypePromptOptimizer, analysisType, input, registry.InvokeOptions{
			SystemPrompt: OptimizerPrompt(analysisType),
			MaxTokens:    optimizerMaxTokens,
			Temperature:  optimizerTemperature,
		})
	if err != nil {
		return nil, err
	}
	outcome.OptimizedPrompt = optimized
	outcome.Optimizer = optimizer
	addUsage(&outcome.Usage, usage)
	if onStageComplete != nil {
		if err := onStageComplete(ctx, StageOptimize, optimized); err != nil {
			return outcome, err
		}
	}

	analysis, analyzer, usage, err := o.invokeStage(ctx,
		registry.TypeAnalyzer, analysisType, optimized, registry.InvokeOptions{
			SystemPrompt: AnalyzerPrompt(analysisType),
			MaxTokens:    analyzerMaxTokens,
			Temperature:  analyzerTemperature,
		})
	if err != nil {
		return outcome, err
	}
	outcome.Analysis = analysis
	outcome.Analyzer = analyzer
	addUsage(&outcome.Usage, usage)
	if onStageComplete != nil {
		if err := onStageComplete(ctx, StageAnalyze, analysis); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// invokeStage calls the preferred candidate for a stage and falls back to the
// next candidate once on failure.
func (o *Orchestrator) invokeStage(
	ctx context.Context,
	serviceType string,
	analysisType core.AnalysisType,
	prompt string,
	opts registry.InvokeOptions,
) (string, ServiceRef, registry.Usage, error) {
	candidates := o.registry.SelectAll(serviceType, string(analysisType))
	if len(candidates) == 0 {
		return "", ServiceRef{}, registry.Usage{}, core.NewError(core.CodeNoServiceAvailable,
			fmt.Sprintf("no service registered for type %q", serviceType))
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	log := logger.FromContext(ctx)
	var lastErr error
	for i, candidate := range candidates {
		if i > 0 {
			log.Warn("Stage falling back to next candidate",
				"service_type", serviceType, "candidate", candidate.Descriptor.ID, "error", lastErr)
		}
		result, err := candidate.Service.Invoke(ctx, prompt, opts)
		if err == nil {
			return result.Content, ServiceRef{
				ID:       candidate.Descriptor.ID,
				Provider: candidate.Descriptor.Provider,
				Model:    candidate.Descriptor.Model,
			}, result.Usage, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if _, ok := core.AsError(lastErr); ok {
		return "", ServiceRef{}, registry.Usage{}, lastErr
	}
	return "", ServiceRef{}, registry.Usage{}, core.WrapError(core.CodeAIServiceError,
		"all candidates failed for stage", lastErr)
}

func addUsage(total *registry.Usage, u registry.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
