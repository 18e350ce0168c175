package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

const bearerPrefix = "Bearer "

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier validates Google-issued ID tokens. Every rejection surfaces the
// same opaque AUTHENTICATION_FAILED error; the real reason is only logged.
type Verifier struct {
	cfg  config.JWTConfig
	keys KeyProvider
}

// NewVerifier creates a token verifier backed by a key provider, normally a
// JWKSCache over the configured endpoint.
func NewVerifier(cfg config.JWTConfig, keys KeyProvider) *Verifier {
	return &Verifier{cfg: cfg, keys: keys}
}

// VerifyBearer authenticates an Authorization header value and returns the
// verified identity. The header must carry exactly one RS256 bearer token
// with matching issuer, audience, and a subject claim.
func (v *Verifier) VerifyBearer(ctx context.Context, authorization string) (core.Identity, error) {
	raw, ok := strings.CutPrefix(authorization, bearerPrefix)
	if !ok || raw == "" || strings.ContainsAny(raw, " \t") {
		return core.Identity{}, v.reject(ctx, "malformed authorization header", nil)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Duration(v.cfg.SkewSeconds) * time.Second),
	}
	if v.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(v.cfg.Audience))
	}

	parsed := &claims{}
	_, err := jwt.ParseWithClaims(raw, parsed, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	}, options...)
	if err != nil {
		return core.Identity{}, v.reject(ctx, "token validation failed", err)
	}
	if parsed.Subject == "" {
		return core.Identity{}, v.reject(ctx, "token missing subject claim", nil)
	}
	return core.Identity{Subject: parsed.Subject, Email: parsed.Email}, nil
}

func (v *Verifier) reject(ctx context.Context, reason string, err error) error {
	log := logger.FromContext(ctx)
	if err != nil {
		log.Debug("Authentication rejected", "reason", reason, "error", core.RedactError(err))
	} else {
		log.Debug("Authentication rejected", "reason", reason)
	}
	return core.NewError(core.CodeAuthenticationFail, "Authentication failed")
}
