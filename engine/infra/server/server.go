package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pluginmind/pluginmind/engine/auth"
	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/server/router"
	"github.com/pluginmind/pluginmind/engine/infra/store"
	"github.com/pluginmind/pluginmind/engine/jobs"
	"github.com/pluginmind/pluginmind/engine/orchestrator"
	"github.com/pluginmind/pluginmind/engine/ratelimit"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Dependencies carries everything the HTTP layer needs. All fields are
// required.
type Dependencies struct {
	Config       *config.Config
	Store        store.Store
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Jobs         *jobs.Manager
	Verifier     *auth.Verifier
	Limiter      *ratelimit.Limiter
	Monitor      *registry.Monitor
	ProbeTimeout time.Duration
}

// Server owns the gin engine and the http.Server lifecycle.
type Server struct {
	deps Dependencies
	log  logger.Logger
	http *http.Server
}

// New builds the server and its route table.
func New(deps Dependencies, log logger.Logger) *Server {
	if deps.Config.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{deps: deps, log: log}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(
		RecoveryMiddleware(),
		CorrelationMiddleware(s.log),
		LoggerMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.deps.Config.Server.AllowedOrigins),
		BodyLimitMiddleware(s.deps.Config.Limits.MaxBodyBytes),
	)
	r.NoRoute(func(c *gin.Context) {
		router.RespondError(c, core.NewError(core.CodeHTTPException, "Not Found"))
	})

	r.GET("/health", s.handleHealth)
	r.GET("/live", s.handleLive)
	r.GET("/ready", s.handleReady)
	r.GET("/version", s.handleVersion)
	r.GET("/services", s.handleListServices)
	r.GET("/services/health", s.handleServicesHealth)

	protected := r.Group("/")
	protected.Use(
		AuthMiddleware(s.deps.Verifier, s.deps.Store),
		RateLimitMiddleware(s.deps.Limiter),
	)
	protected.POST("/process", s.handleProcess)
	// Legacy alias kept for clients that predate the generic pipeline.
	protected.POST("/analyze", s.handleProcess)
	protected.POST("/analyze-async", s.handleSubmitJob)
	protected.GET("/analyze-async/:job_id", s.handleGetJob)
	protected.DELETE("/analyze-async/:job_id", s.handleCancelJob)
	protected.GET("/me", s.handleMe)
	protected.GET("/me/usage", s.handleMyUsage)
	protected.GET("/query-logs", s.handleMyQueries)
	return r
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run starts the background components and serves HTTP until the context is
// canceled, then shuts everything down in reverse order.
func (s *Server) Run(ctx context.Context) error {
	s.deps.Jobs.Start(ctx)
	s.deps.Monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown did not complete cleanly", "error", err)
	}
	s.deps.Monitor.Stop()
	s.deps.Jobs.Stop()
	if serveErr != nil {
		return fmt.Errorf("http server failed: %w", serveErr)
	}
	return nil
}
