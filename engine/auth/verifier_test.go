package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/config"
)

type staticKeys struct {
	keys map[string]*rsa.PublicKey
}

func (s *staticKeys) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

type tokenParams struct {
	kid      string
	issuer   string
	audience string
	subject  string
	email    string
	expires  time.Time
	method   jwt.SigningMethod
}

func defaultParams() tokenParams {
	return tokenParams{
		kid:      "key-1",
		issuer:   "https://accounts.google.com",
		audience: "client-id-123",
		subject:  "user-sub-1",
		email:    "user@example.com",
		expires:  time.Now().Add(time.Hour),
		method:   jwt.SigningMethodRS256,
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, p tokenParams) string {
	t.Helper()
	tokenClaims := jwt.MapClaims{
		"iss":   p.issuer,
		"aud":   p.audience,
		"sub":   p.subject,
		"email": p.email,
		"exp":   p.expires.Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
	if p.subject == "" {
		delete(tokenClaims, "sub")
	}
	token := jwt.NewWithClaims(p.method, tokenClaims)
	token.Header["kid"] = p.kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newVerifierFixture(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewVerifier(config.JWTConfig{
		Issuer:      "https://accounts.google.com",
		Audience:    "client-id-123",
		SkewSeconds: 30,
	}, &staticKeys{keys: map[string]*rsa.PublicKey{"key-1": &key.PublicKey}})
	return v, key
}

func assertAuthFailed(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	typed, ok := core.AsError(err)
	require.True(t, ok)
	assert.Equal(t, core.CodeAuthenticationFail, typed.Code)
	assert.Equal(t, "Authentication failed", typed.Message, "rejections stay opaque")
}

func TestVerifier_VerifyBearer(t *testing.T) {
	t.Run("Should accept a valid RS256 token and return the identity", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		token := signToken(t, key, defaultParams())
		identity, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		require.NoError(t, err)
		assert.Equal(t, "user-sub-1", identity.Subject)
		assert.Equal(t, "user@example.com", identity.Email)
	})

	t.Run("Should tolerate clock skew within the configured leeway", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		p := defaultParams()
		p.expires = time.Now().Add(-10 * time.Second)
		token := signToken(t, key, p)
		_, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		assert.NoError(t, err, "10s past expiry is inside the 30s leeway")
	})

	t.Run("Should reject expired tokens", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		p := defaultParams()
		p.expires = time.Now().Add(-time.Hour)
		token := signToken(t, key, p)
		_, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		assertAuthFailed(t, err)
	})

	t.Run("Should reject a wrong issuer", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		p := defaultParams()
		p.issuer = "https://evil.example.com"
		token := signToken(t, key, p)
		_, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		assertAuthFailed(t, err)
	})

	t.Run("Should reject a wrong audience", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		p := defaultParams()
		p.audience = "other-client"
		token := signToken(t, key, p)
		_, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		assertAuthFailed(t, err)
	})

	t.Run("Should reject tokens without a subject", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		p := defaultParams()
		p.subject = ""
		token := signToken(t, key, p)
		_, err := v.VerifyBearer(context.Background(), "Bearer "+token)
		assertAuthFailed(t, err)
	})

	t.Run("Should reject non-RS256 algorithms", func(t *testing.T) {
		v, _ := newVerifierFixture(t)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "https://accounts.google.com",
			"aud": "client-id-123",
			"sub": "user-sub-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = "key-1"
		signed, err := token.SignedString([]byte("hmac-secret"))
		require.NoError(t, err)
		_, verr := v.VerifyBearer(context.Background(), "Bearer "+signed)
		assertAuthFailed(t, verr)
	})

	t.Run("Should reject tokens signed by an unknown key", func(t *testing.T) {
		v, _ := newVerifierFixture(t)
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		p := defaultParams()
		p.kid = "rogue-key"
		token := signToken(t, otherKey, p)
		_, verr := v.VerifyBearer(context.Background(), "Bearer "+token)
		assertAuthFailed(t, verr)
	})

	t.Run("Should reject malformed authorization headers", func(t *testing.T) {
		v, key := newVerifierFixture(t)
		token := signToken(t, key, defaultParams())
		for _, header := range []string{
			"",
			token,
			"bearer " + token,
			"Bearer",
			"Bearer ",
			"Bearer  " + token,
			"Bearer " + token + " extra",
			"Basic dXNlcjpwYXNz",
		} {
			_, err := v.VerifyBearer(context.Background(), header)
			assertAuthFailed(t, err)
		}
	})
}
