package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pluginmind/pluginmind/pkg/logger"
)

const minAPIKeyLength = 10

var knownDatabaseSchemes = map[string]bool{
	"postgresql": true,
	"postgres":   true,
	"sqlite":     true,
	"mysql":      true,
}

// recognizedIssuerSuffix is the identity provider family the verifier
// understands.
const recognizedIssuerSuffix = "accounts.google.com"

// Validate checks every configuration constraint and returns a single error
// listing all violations. It also applies debug-only fallbacks (localhost
// CORS origin) before validation.
func (c *Config) Validate(ctx context.Context) error {
	log := logger.FromContext(ctx)
	var violations []string

	if c.Server.Debug && len(c.Server.AllowedOrigins) == 0 {
		log.Warn("No CORS origins configured; defaulting to localhost (debug only)")
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}

	violations = append(violations, c.validateStructTags()...)
	violations = append(violations, c.validateProviders()...)
	violations = append(violations, c.validateJWT()...)
	violations = append(violations, c.validateOrigins()...)
	violations = append(violations, c.validateHTTP()...)
	violations = append(violations, c.validateRateLimits()...)
	violations = append(violations, c.validateLimits()...)
	violations = append(violations, c.validateJobs()...)
	violations = append(violations, c.validateDatabase()...)

	if len(violations) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(violations, "\n  - "))
	}
	return nil
}

func (c *Config) validateStructTags() []string {
	var violations []string
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				violations = append(violations, fmt.Sprintf(
					"%s: failed %q constraint", fe.Namespace(), fe.Tag()))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}
	return violations
}

func (c *Config) validateProviders() []string {
	var violations []string
	providers := []struct {
		name string
		cfg  *ProviderConfig
	}{
		{"openai", &c.OpenAI},
		{"grok", &c.Grok},
	}
	for _, p := range providers {
		if !c.Testing {
			if len(p.cfg.APIKey.Value()) < minAPIKeyLength {
				violations = append(violations, fmt.Sprintf(
					"%s.api_key: must be at least %d characters (set TESTING=true to relax)",
					p.name, minAPIKeyLength))
			}
		}
		if msg := validateHTTPURL(p.cfg.APIURL); msg != "" {
			violations = append(violations, fmt.Sprintf("%s.api_url: %s", p.name, msg))
		}
		if p.cfg.Model == "" {
			violations = append(violations, fmt.Sprintf("%s.model: must not be empty", p.name))
		}
	}
	return violations
}

func (c *Config) validateJWT() []string {
	var violations []string
	issuer := strings.TrimSuffix(c.JWT.Issuer, "/")
	if !strings.HasSuffix(issuer, recognizedIssuerSuffix) {
		violations = append(violations, fmt.Sprintf(
			"jwt.issuer: must end with %q, got %q", recognizedIssuerSuffix, c.JWT.Issuer))
	}
	if !c.Testing && c.JWT.Audience == "" {
		violations = append(violations, "jwt.audience: expected client id must be set")
	}
	if msg := validateHTTPURL(c.JWT.JWKSURL); msg != "" {
		violations = append(violations, "jwt.jwks_url: "+msg)
	}
	if c.JWT.JWKSTTL <= 0 {
		violations = append(violations, "jwt.jwks_ttl: must be positive")
	}
	return violations
}

func (c *Config) validateOrigins() []string {
	var violations []string
	if !c.Server.Debug {
		if len(c.Server.AllowedOrigins) == 0 {
			violations = append(violations, "server.allowed_origins: must not be empty in production")
		}
		for _, origin := range c.Server.AllowedOrigins {
			if origin == "*" {
				violations = append(violations, "server.allowed_origins: wildcard origin forbidden in production")
			}
		}
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if msg := validateHTTPURL(origin); msg != "" {
			violations = append(violations, fmt.Sprintf("server.allowed_origins: %q: %s", origin, msg))
		}
	}
	return violations
}

func (c *Config) validateHTTP() []string {
	var violations []string
	if c.HTTP.Timeout < time.Second || c.HTTP.Timeout > 300*time.Second {
		violations = append(violations, fmt.Sprintf(
			"http.timeout: must be between 1s and 300s, got %s", c.HTTP.Timeout))
	}
	granular := []struct {
		name  string
		value time.Duration
	}{
		{"http.connect_timeout", c.HTTP.ConnectTimeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.pool_timeout", c.HTTP.PoolTimeout},
	}
	for _, g := range granular {
		if g.value <= 0 {
			violations = append(violations, g.name+": must be positive")
		}
	}
	if c.HTTP.ReadTimeout > 600*time.Second {
		violations = append(violations, fmt.Sprintf(
			"http.read_timeout: must not exceed 600s, got %s", c.HTTP.ReadTimeout))
	}
	if c.HTTP.PoolSize < 1 || c.HTTP.PoolSize > 10000 {
		violations = append(violations, fmt.Sprintf(
			"http.pool_size: must be between 1 and 10000, got %d", c.HTTP.PoolSize))
	}
	if c.HTTP.KeepAlive <= 0 {
		violations = append(violations, "http.keepalive: must be positive")
	}
	if c.HTTP.BackoffBase <= 0 {
		violations = append(violations, "http.backoff_base: must be positive")
	}
	return violations
}

func (c *Config) validateRateLimits() []string {
	var violations []string
	tiers := []struct {
		name      string
		perMinute int
		burst     int
	}{
		{"ratelimit.user", c.RateLimit.UserPerMinute, c.RateLimit.UserBurst},
		{"ratelimit.ip", c.RateLimit.IPPerMinute, c.RateLimit.IPBurst},
	}
	for _, tier := range tiers {
		if tier.perMinute <= 0 {
			violations = append(violations, tier.name+"_per_minute: must be positive")
		}
		if tier.burst < tier.perMinute {
			violations = append(violations, fmt.Sprintf(
				"%s_burst: must be >= %s_per_minute (%d < %d)",
				tier.name, tier.name, tier.burst, tier.perMinute))
		}
	}
	return violations
}

func (c *Config) validateLimits() []string {
	var violations []string
	if c.Limits.MaxInputLength <= 0 {
		violations = append(violations, "limits.max_input_length: must be positive")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		violations = append(violations, "limits.max_body_bytes: must be positive")
	}
	return violations
}

func (c *Config) validateJobs() []string {
	var violations []string
	if c.Jobs.Retention <= 0 {
		violations = append(violations, "jobs.retention: must be positive")
	}
	if c.Jobs.Liveness <= 0 {
		violations = append(violations, "jobs.liveness: must be positive")
	}
	if c.Jobs.SweepInterval <= 0 {
		violations = append(violations, "jobs.sweep_interval: must be positive")
	}
	if c.Registry.ProbeTimeout <= 0 {
		violations = append(violations, "registry.probe_timeout: must be positive")
	}
	return violations
}

func (c *Config) validateDatabase() []string {
	raw := c.Database.URL.Value()
	if raw == "" {
		return []string{"database.url: must be set"}
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return []string{"database.url: missing or malformed scheme"}
	}
	if !knownDatabaseSchemes[parsed.Scheme] {
		return []string{fmt.Sprintf("database.url: unsupported scheme %q", parsed.Scheme)}
	}
	return nil
}

func validateHTTPURL(raw string) string {
	if raw == "" {
		return "must not be empty"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "malformed URL"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Sprintf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "missing host"
	}
	return ""
}
