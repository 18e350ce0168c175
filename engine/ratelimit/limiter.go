package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Rate describes one bucket family: burst capacity and steady refill.
type Rate struct {
	Capacity     float64
	RefillPerSec float64
}

// PerMinute builds a Rate from the per-minute/burst pair used in
// configuration.
func PerMinute(perMinute, burst int) Rate {
	return Rate{
		Capacity:     float64(burst),
		RefillPerSec: float64(perMinute) / 60.0,
	}
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Limiter maintains independent token buckets keyed by scope:identifier.
// Buckets are process-local; contention is per key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	userRate Rate
	ipRate   Rate
	now      func() time.Time
}

// NewLimiter creates a limiter with separate user and IP bucket families.
func NewLimiter(userRate, ipRate Rate) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		userRate: userRate,
		ipRate:   ipRate,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// ConsumeUser takes cost tokens from the bucket for the given user id.
func (l *Limiter) ConsumeUser(userID string, cost float64) (bool, int) {
	return l.consume("user:"+userID, l.userRate, cost)
}

// ConsumeIP takes cost tokens from the bucket for the given remote address.
func (l *Limiter) ConsumeIP(addr string, cost float64) (bool, int) {
	return l.consume("ip:"+addr, l.ipRate, cost)
}

// consume refills the bucket from elapsed time, then either takes the whole
// cost or leaves the bucket unchanged and reports the wait in seconds until
// the cost would be available.
func (l *Limiter) consume(key string, rate Rate, cost float64) (bool, int) {
	if cost <= 0 {
		return false, 0
	}
	b := l.bucketFor(key, rate)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(rate.Capacity, b.tokens+elapsed*rate.RefillPerSec)
	}
	b.lastRefill = now

	if b.tokens >= cost {
		b.tokens -= cost
		return true, 0
	}
	wait := (cost - b.tokens) / rate.RefillPerSec
	return false, int(math.Ceil(wait))
}

func (l *Limiter) bucketFor(key string, rate Rate) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.Capacity, lastRefill: l.now()}
		l.buckets[key] = b
	}
	return b
}
