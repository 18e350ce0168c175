package config

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := Default()
	cfg.Testing = true
	cfg.Server.Debug = true
	cfg.Database.URL = "postgresql://localhost:5432/pluginmind"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Should accept a valid testing configuration", func(t *testing.T) {
		cfg := validTestConfig()
		require.NoError(t, cfg.Validate(context.Background()))
	})

	t.Run("Should collect every violation into one error", func(t *testing.T) {
		cfg := Default()
		// Production mode with no secrets, no origins, no database.
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "openai.api_key")
		assert.Contains(t, msg, "grok.api_key")
		assert.Contains(t, msg, "jwt.audience")
		assert.Contains(t, msg, "server.allowed_origins")
		assert.Contains(t, msg, "database.url")
	})

	t.Run("Should relax API key checks when testing", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.OpenAI.APIKey = "short"
		require.NoError(t, cfg.Validate(context.Background()))
	})

	t.Run("Should default CORS origins to localhost in debug mode", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Server.AllowedOrigins = nil
		require.NoError(t, cfg.Validate(context.Background()))
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	})

	t.Run("Should forbid wildcard origins in production", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Server.Debug = false
		cfg.JWT.Audience = "client-id"
		cfg.OpenAI.APIKey = "long-enough-key"
		cfg.Grok.APIKey = "long-enough-key"
		cfg.Testing = false
		cfg.Server.AllowedOrigins = []string{"*"}
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wildcard origin forbidden")
	})

	t.Run("Should reject unknown database schemes", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.URL = "mongodb://localhost/pluginmind"
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported scheme "mongodb"`)
	})

	t.Run("Should reject issuers outside the recognized provider", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.JWT.Issuer = "https://evil.example.com"
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.issuer")
	})

	t.Run("Should enforce the outbound HTTP budgets", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.HTTP.Timeout = 500 * time.Millisecond
		cfg.HTTP.ReadTimeout = 700 * time.Second
		cfg.HTTP.PoolSize = 0
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http.timeout")
		assert.Contains(t, err.Error(), "http.read_timeout")
		assert.Contains(t, err.Error(), "http.pool_size")
	})

	t.Run("Should require burst to cover the per-minute rate", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.RateLimit.UserBurst = cfg.RateLimit.UserPerMinute - 1
		err := cfg.Validate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ratelimit.user_burst")
	})
}

func TestConfig_Load(t *testing.T) {
	setBaseEnv := func(t *testing.T) {
		t.Helper()
		t.Setenv("TESTING", "true")
		t.Setenv("DEBUG", "true")
		t.Setenv("DATABASE_URL", "postgresql://localhost:5432/pluginmind")
	}

	t.Run("Should overlay environment variables onto defaults", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("OPENAI_API_KEY", "sk-test-key-long-enough")
		t.Setenv("HTTP_TIMEOUT", "45s")
		t.Setenv("CORS_ORIGINS", "http://a.example.com,http://b.example.com")

		cfg, err := Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "sk-test-key-long-enough", cfg.OpenAI.APIKey.Value())
		assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"},
			cfg.Server.AllowedOrigins)
		// Untouched defaults survive the overlay.
		assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	})

	t.Run("Should fail closed on invalid values", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("SERVER_PORT", "99999")
		_, err := Load(context.Background())
		require.Error(t, err)
	})

	t.Run("Should scope provider prefixes to the right section", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
		t.Setenv("GROK_MODEL", "grok-4")
		cfg, err := Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
		assert.Equal(t, "grok-4", cfg.Grok.Model)
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact in formatted output", func(t *testing.T) {
		secret := SensitiveString("sk-super-secret")
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
	})

	t.Run("Should redact in JSON serialization", func(t *testing.T) {
		raw, err := json.Marshal(struct {
			Key SensitiveString `json:"key"`
		}{Key: "sk-super-secret"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(raw))
	})

	t.Run("Should expose the secret only through Value", func(t *testing.T) {
		secret := SensitiveString("sk-super-secret")
		assert.Equal(t, "sk-super-secret", secret.Value())
	})

	t.Run("Should keep empty values empty", func(t *testing.T) {
		assert.Equal(t, "", SensitiveString("").String())
	})
}
