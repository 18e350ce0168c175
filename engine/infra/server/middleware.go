package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pluginmind/pluginmind/engine/auth"
	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/server/router"
	"github.com/pluginmind/pluginmind/engine/infra/store"
	"github.com/pluginmind/pluginmind/engine/ratelimit"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

const (
	userKey     = "auth_user"
	identityKey = "auth_identity"
)

// CurrentUser returns the authenticated user set by AuthMiddleware.
func CurrentUser(c *gin.Context) (*core.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*core.User)
	return user, ok
}

// CorrelationMiddleware guarantees every request carries a valid correlation
// id and attaches the request logger to the context.
func CorrelationMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := router.EnsureCorrelationID(c)
		reqLog := log.With("correlation_id", correlationID)
		ctx := logger.ContextWithLogger(c.Request.Context(), reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LoggerMiddleware logs HTTP request details after completion. Sensitive
// headers never reach the log line.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log := logger.FromContext(c.Request.Context())
		log.Info("Request completed",
			"method", c.Request.Method,
			"path", path,
			"status_code", c.Writer.Status(),
			"latency", time.Since(start),
			"body_size", c.Writer.Size(),
			"headers", core.RedactHeaders(c.Request.Header),
		)
	}
}

// SecurityHeadersMiddleware sets the standard hardening headers on every
// response.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}

// CORSMiddleware enables CORS for the configured origins only. An empty
// allow-list allows nothing.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, "+
				router.RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// BodyLimitMiddleware rejects oversized payloads before any parsing. A
// declared Content-Length past the cap fails fast; chunked bodies are capped
// by MaxBytesReader at read time.
func BodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			router.RespondError(c, core.NewError(core.CodeRequestTooLarge,
				"request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RecoveryMiddleware converts panics into the uniform error envelope.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.FromContext(c.Request.Context()).Error("Panic recovered in handler",
			"panic", recovered, "path", c.Request.URL.Path)
		router.RespondError(c, core.NewError(core.CodeInternalServerError,
			"An internal error occurred. Please try again."))
	})
}

// AuthMiddleware verifies the bearer token and resolves the account,
// provisioning it on first contact. Any failure yields the opaque
// authentication envelope.
func AuthMiddleware(verifier *auth.Verifier, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.VerifyBearer(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			router.RespondError(c, err)
			return
		}
		user, err := st.GetOrCreateUser(c.Request.Context(), identity)
		if err != nil {
			router.RespondError(c, err)
			return
		}
		if !user.Active {
			router.RespondError(c, core.NewError(core.CodeAuthenticationFail,
				"Authentication failed"))
			return
		}
		c.Set(identityKey, identity)
		c.Set(userKey, user)
		c.Next()
	}
}

// RateLimitMiddleware enforces the per-user bucket first, then the per-IP
// bucket. A missing client address counts against a shared bucket rather
// than bypassing the limit.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := CurrentUser(c); ok {
			if allowed, retryAfter := limiter.ConsumeUser(user.ID, 1); !allowed {
				router.RespondError(c, &core.Error{
					Code:       core.CodeRateLimitExceeded,
					Message:    "Rate limit exceeded. Please slow down.",
					RetryAfter: retryAfter,
				})
				return
			}
		}
		ip, ok := ratelimit.ExtractClientIP(c.Request)
		if !ok {
			ip = "unknown"
		}
		if allowed, retryAfter := limiter.ConsumeIP(ip, 1); !allowed {
			router.RespondError(c, &core.Error{
				Code:       core.CodeRateLimitExceeded,
				Message:    "Rate limit exceeded. Please slow down.",
				RetryAfter: retryAfter,
			})
			return
		}
		c.Next()
	}
}
