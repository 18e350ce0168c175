package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pluginmind/pluginmind/engine/auth"
	"github.com/pluginmind/pluginmind/engine/infra/postgres"
	"github.com/pluginmind/pluginmind/engine/infra/server"
	"github.com/pluginmind/pluginmind/engine/jobs"
	"github.com/pluginmind/pluginmind/engine/orchestrator"
	"github.com/pluginmind/pluginmind/engine/plugin"
	"github.com/pluginmind/pluginmind/engine/ratelimit"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// ServeCmd runs the gateway until interrupted.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logger.GetDefault()
			ctx = logger.ContextWithLogger(ctx, log)

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			dbURL := cfg.Database.URL.Value()
			if err := postgres.Migrate(ctx, dbURL); err != nil {
				return fmt.Errorf("database migration failed: %w", err)
			}
			st, err := postgres.Connect(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer st.Close()

			reg := registry.New()
			client := plugin.NewClient(&cfg.HTTP)
			for _, p := range []*plugin.Provider{
				plugin.NewOpenAI(client, cfg.OpenAI),
				plugin.NewGrok(client, cfg.Grok),
			} {
				descriptor := p.Metadata()
				if err := reg.Register(descriptor.ID, p, descriptor); err != nil {
					return fmt.Errorf("failed to register service %s: %w", descriptor.ID, err)
				}
				log.Info("Registered AI service",
					"id", descriptor.ID, "provider", descriptor.Provider, "model", descriptor.Model)
			}

			orch := orchestrator.New(reg, st, cfg.Limits.MaxInputLength)
			manager := jobs.NewManager(st, orch, cfg.Jobs)
			verifier := auth.NewVerifier(cfg.JWT,
				auth.NewJWKSCache(cfg.JWT.JWKSURL, cfg.JWT.JWKSTTL))
			limiter := ratelimit.NewLimiter(
				ratelimit.PerMinute(cfg.RateLimit.UserPerMinute, cfg.RateLimit.UserBurst),
				ratelimit.PerMinute(cfg.RateLimit.IPPerMinute, cfg.RateLimit.IPBurst),
			)
			monitor := registry.NewMonitor(reg, cfg.Registry.ProbeInterval, cfg.Registry.ProbeTimeout)

			srv := server.New(server.Dependencies{
				Config:       cfg,
				Store:        st,
				Registry:     reg,
				Orchestrator: orch,
				Jobs:         manager,
				Verifier:     verifier,
				Limiter:      limiter,
				Monitor:      monitor,
				ProbeTimeout: cfg.Registry.ProbeTimeout,
			}, log)
			return srv.Run(ctx)
		},
	}
}
