package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(userRate, ipRate Rate) (*Limiter, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(userRate, ipRate).WithClock(func() time.Time { return now })
	return l, &now
}

func TestLimiter_Consume(t *testing.T) {
	t.Run("Should allow up to burst and deny afterwards", func(t *testing.T) {
		l, _ := newTestLimiter(PerMinute(60, 120), PerMinute(120, 240))
		for i := 0; i < 120; i++ {
			allowed, _ := l.ConsumeUser("u1", 1)
			require.True(t, allowed, "request %d should pass", i+1)
		}
		allowed, retryAfter := l.ConsumeUser("u1", 1)
		assert.False(t, allowed)
		assert.Equal(t, 1, retryAfter)
	})

	t.Run("Should refill tokens over elapsed time up to capacity", func(t *testing.T) {
		l, now := newTestLimiter(PerMinute(60, 120), PerMinute(120, 240))
		for i := 0; i < 120; i++ {
			l.ConsumeUser("u1", 1)
		}
		*now = now.Add(10 * time.Second) // 10 tokens at 1/s
		for i := 0; i < 10; i++ {
			allowed, _ := l.ConsumeUser("u1", 1)
			require.True(t, allowed)
		}
		allowed, _ := l.ConsumeUser("u1", 1)
		assert.False(t, allowed)

		*now = now.Add(time.Hour)
		allowed, _ = l.ConsumeUser("u1", 120)
		assert.True(t, allowed, "refill must clamp at capacity but cover a full burst")
	})

	t.Run("Should compute Retry-After as ceil of deficit over refill rate", func(t *testing.T) {
		l, _ := newTestLimiter(PerMinute(60, 120), PerMinute(120, 240))
		for i := 0; i < 120; i++ {
			l.ConsumeUser("u1", 1)
		}
		// tokens=0, refill=1/s: a cost of 5 needs 5 seconds.
		allowed, retryAfter := l.ConsumeUser("u1", 5)
		assert.False(t, allowed)
		assert.Equal(t, 5, retryAfter)
	})

	t.Run("Should reject non-positive costs without mutating the bucket", func(t *testing.T) {
		l, _ := newTestLimiter(PerMinute(60, 120), PerMinute(120, 240))
		allowed, retryAfter := l.ConsumeUser("u1", 0)
		assert.False(t, allowed)
		assert.Zero(t, retryAfter)
		allowed, _ = l.ConsumeUser("u1", 120)
		assert.True(t, allowed, "full burst must still be available")
	})

	t.Run("Should keep buckets independent per key", func(t *testing.T) {
		l, _ := newTestLimiter(PerMinute(60, 60), PerMinute(120, 240))
		for i := 0; i < 60; i++ {
			l.ConsumeUser("u1", 1)
		}
		allowed, _ := l.ConsumeUser("u1", 1)
		assert.False(t, allowed)
		allowed, _ = l.ConsumeUser("u2", 1)
		assert.True(t, allowed)
		allowed, _ = l.ConsumeIP("203.0.113.7", 1)
		assert.True(t, allowed)
	})

	t.Run("Should not deadlock under concurrent consumers of the same key", func(t *testing.T) {
		l := NewLimiter(PerMinute(60, 1000), PerMinute(120, 240))
		done := make(chan struct{})
		for g := 0; g < 8; g++ {
			go func() {
				for i := 0; i < 100; i++ {
					l.ConsumeUser("shared", 1)
				}
				done <- struct{}{}
			}()
		}
		for g := 0; g < 8; g++ {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for concurrent consumers")
			}
		}
	})
}

func TestExtractClientIP(t *testing.T) {
	t.Run("Should use the direct peer address first", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "198.51.100.4:54321"
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
		ip, ok := ExtractClientIP(r)
		require.True(t, ok)
		assert.Equal(t, "198.51.100.4", ip)
	})

	t.Run("Should fall back to the first X-Forwarded-For hop", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "bogus"
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		ip, ok := ExtractClientIP(r)
		require.True(t, ok)
		assert.Equal(t, "203.0.113.9", ip)
	})

	t.Run("Should fall back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "bogus"
		r.Header.Set("X-Real-IP", " 2001:db8::1 ")
		ip, ok := ExtractClientIP(r)
		require.True(t, ok)
		assert.Equal(t, "2001:db8::1", ip)
	})

	t.Run("Should reject IPv6 zone identifiers", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "bogus"
		r.Header.Set("X-Real-IP", "fe80::1%eth0")
		_, ok := ExtractClientIP(r)
		assert.False(t, ok)
	})

	t.Run("Should reject syntactically invalid addresses", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "bogus"
		r.Header.Set("X-Forwarded-For", "not-an-ip")
		_, ok := ExtractClientIP(r)
		assert.False(t, ok)
	})
}
