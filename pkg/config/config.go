package config

import (
	"time"
)

// Config is the complete gateway configuration, loaded once at startup from
// defaults overlaid with environment variables.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	OpenAI    ProviderConfig  `koanf:"openai" envPrefix:"OPENAI_"`
	Grok      ProviderConfig  `koanf:"grok"   envPrefix:"GROK_"`
	JWT       JWTConfig       `koanf:"jwt"`
	HTTP      HTTPConfig      `koanf:"http"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Limits    LimitsConfig    `koanf:"limits"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Registry  RegistryConfig  `koanf:"registry"`
	Database  DatabaseConfig  `koanf:"database"`
	Testing   bool            `koanf:"testing"  env:"TESTING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host           string   `koanf:"host"            env:"SERVER_HOST"`
	Port           int      `koanf:"port"            env:"SERVER_PORT"     validate:"min=1,max=65535"`
	AllowedOrigins []string `koanf:"allowed_origins" env:"CORS_ORIGINS"`
	Debug          bool     `koanf:"debug"           env:"DEBUG"`
}

// ProviderConfig describes one outbound AI provider.
type ProviderConfig struct {
	APIKey SensitiveString `koanf:"api_key" env:"API_KEY" sensitive:"true"`
	APIURL string          `koanf:"api_url" env:"API_URL"`
	Model  string          `koanf:"model"   env:"MODEL"`
}

// JWTConfig contains token verification configuration.
type JWTConfig struct {
	Issuer      string        `koanf:"issuer"       env:"JWT_ISSUER"`
	Audience    string        `koanf:"audience"     env:"GOOGLE_CLIENT_ID"`
	JWKSURL     string        `koanf:"jwks_url"     env:"JWT_JWKS_URL"`
	JWKSTTL     time.Duration `koanf:"jwks_ttl"     env:"JWT_JWKS_TTL"`
	SkewSeconds int           `koanf:"skew_seconds" env:"JWT_SKEW_SECONDS"`
}

// HTTPConfig contains outbound HTTP budgets for the provider plugins.
type HTTPConfig struct {
	Timeout        time.Duration `koanf:"timeout"         env:"HTTP_TIMEOUT"`
	MaxRetries     int           `koanf:"max_retries"     env:"HTTP_MAX_RETRIES"     validate:"min=0,max=10"`
	BackoffBase    time.Duration `koanf:"backoff_base"    env:"HTTP_BACKOFF_BASE"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" env:"GROK_CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `koanf:"read_timeout"    env:"GROK_READ_TIMEOUT"`
	WriteTimeout   time.Duration `koanf:"write_timeout"   env:"GROK_WRITE_TIMEOUT"`
	PoolTimeout    time.Duration `koanf:"pool_timeout"    env:"GROK_POOL_TIMEOUT"`
	PoolSize       int           `koanf:"pool_size"       env:"HTTP_POOL_SIZE"`
	KeepAlive      time.Duration `koanf:"keepalive"       env:"HTTP_KEEPALIVE"`
}

// RateLimitConfig configures the user and IP token buckets.
type RateLimitConfig struct {
	UserPerMinute int `koanf:"user_per_minute" env:"RATE_LIMIT_PER_MIN"`
	UserBurst     int `koanf:"user_burst"      env:"RATE_LIMIT_BURST"`
	IPPerMinute   int `koanf:"ip_per_minute"   env:"RATE_LIMIT_IP_PER_MIN"`
	IPBurst       int `koanf:"ip_burst"        env:"RATE_LIMIT_IP_BURST"`
}

// LimitsConfig contains inbound request caps.
type LimitsConfig struct {
	MaxInputLength int   `koanf:"max_input_length" env:"MAX_USER_INPUT_LENGTH"`
	MaxBodyBytes   int64 `koanf:"max_body_bytes"   env:"MAX_BODY_BYTES"`
}

// JobsConfig configures the async job manager.
type JobsConfig struct {
	Workers       int           `koanf:"workers"        env:"JOB_WORKERS"        validate:"min=1,max=64"`
	QueueSize     int           `koanf:"queue_size"     env:"JOB_QUEUE_SIZE"     validate:"min=1"`
	Retention     time.Duration `koanf:"retention"      env:"JOB_RETENTION"`
	Liveness      time.Duration `koanf:"liveness"       env:"JOB_LIVENESS"`
	SweepInterval time.Duration `koanf:"sweep_interval" env:"JOB_SWEEP_INTERVAL"`
}

// RegistryConfig configures service health monitoring.
type RegistryConfig struct {
	ProbeTimeout  time.Duration `koanf:"probe_timeout"  env:"HEALTH_PROBE_TIMEOUT"`
	ProbeInterval time.Duration `koanf:"probe_interval" env:"HEALTH_PROBE_INTERVAL"`
}

// DatabaseConfig contains the persistence URL.
type DatabaseConfig struct {
	URL SensitiveString `koanf:"url" env:"DATABASE_URL" sensitive:"true"`
}

// Default returns the development-friendly defaults overlaid by environment
// variables during Load.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		OpenAI: ProviderConfig{
			APIURL: "https://api.openai.com/v1/chat/completions",
			Model:  "gpt-4o",
		},
		Grok: ProviderConfig{
			APIURL: "https://api.x.ai/v1/chat/completions",
			Model:  "grok-3-latest",
		},
		JWT: JWTConfig{
			Issuer:      "https://accounts.google.com",
			JWKSURL:     "https://www.googleapis.com/oauth2/v3/certs",
			JWKSTTL:     time.Hour,
			SkewSeconds: 30,
		},
		HTTP: HTTPConfig{
			Timeout:        30 * time.Second,
			MaxRetries:     1,
			BackoffBase:    500 * time.Millisecond,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    120 * time.Second,
			WriteTimeout:   30 * time.Second,
			PoolTimeout:    10 * time.Second,
			PoolSize:       100,
			KeepAlive:      30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			UserPerMinute: 60,
			UserBurst:     120,
			IPPerMinute:   120,
			IPBurst:       240,
		},
		Limits: LimitsConfig{
			MaxInputLength: 5000,
			MaxBodyBytes:   64 * 1024,
		},
		Jobs: JobsConfig{
			Workers:       4,
			QueueSize:     256,
			Retention:     time.Hour,
			Liveness:      10 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Registry: RegistryConfig{
			ProbeTimeout:  5 * time.Second,
			ProbeInterval: 60 * time.Second,
		},
	}
}
