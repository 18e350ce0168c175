package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pluginmind/pluginmind/pkg/logger"
)

// minRefreshInterval throttles forced refreshes triggered by unknown key ids
// so a flood of bad tokens cannot hammer the identity provider.
const minRefreshInterval = 30 * time.Second

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyProvider resolves a key id to an RSA public key.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// JWKSCache fetches the identity provider's signing keys and caches them for
// a TTL. An unknown kid forces one refresh, covering provider key rotation
// without waiting out the TTL.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *resty.Client
	clock  func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewJWKSCache creates a key cache for the given JWKS endpoint.
func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    url,
		ttl:    ttl,
		client: resty.New().SetTimeout(10 * time.Second),
		clock:  time.Now,
	}
}

// Key returns the RSA public key for a kid, refreshing the key set when the
// cache is stale or the kid is unknown.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	fresh := !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl
	if fresh {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
	}
	if now.Sub(c.lastAttempt) >= minRefreshInterval || !fresh {
		if err := c.refresh(ctx); err != nil {
			// Serve a cached key through transient fetch failures.
			if key, ok := c.keys[kid]; ok {
				return key, nil
			}
			return nil, err
		}
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("signing key %q not found in key set", kid)
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.lastAttempt = c.clock()
	var doc jwksDocument
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&doc).
		Get(c.url)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetching JWKS: status %d", resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			logger.FromContext(ctx).Warn("Skipping unparseable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("JWKS document contained no usable RSA keys")
	}
	c.keys = keys
	c.fetchedAt = c.clock()
	logger.FromContext(ctx).Debug("JWKS refreshed", "keys", len(keys))
	return nil
}

func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 || e.Int64() > 1<<31 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
