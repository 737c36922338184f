// Package ratelimit provides per-packet-type token-bucket rate limiting for
// inbound server frames, adapted from
// host-agent/internal/heartbeat/ratelimit.go's EventRateLimiter. A
// compromised or malfunctioning pad should not be able to overwhelm a
// peer-linker or channel-hub server with excessive signaling traffic; an
// excess frame is dropped silently rather than answered with an Error,
// since replying would itself be amplifiable.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Limit defines the rate limit parameters for a single packet type.
type Limit struct {
	MaxBurst       int
	RefillInterval time.Duration
}

type bucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// Limiter enforces a per-packet-type token bucket.
type Limiter struct {
	mu      sync.Mutex
	limits  map[uint16]Limit
	buckets map[uint16]*bucket
	def     Limit
}

// DefaultLimits returns a generous catch-all default of 64 frames of a
// single type in a burst, refilled at one token per 200ms. Buckets are kept
// per packet type only, so every session of a server sharing one Limiter
// draws from the same bucket. Mirrors
// ratelimit.go's DefaultEventLimits default bucket.
func DefaultLimits() (map[uint16]Limit, Limit) {
	return map[uint16]Limit{}, Limit{MaxBurst: 64, RefillInterval: 200 * time.Millisecond}
}

// New creates a Limiter with explicit limits per packet type; packet types
// with no explicit entry fall back to def.
func New(limits map[uint16]Limit, def Limit) *Limiter {
	buckets := make(map[uint16]*bucket, len(limits))
	now := time.Now()
	for typ, l := range limits {
		buckets[typ] = &bucket{tokens: l.MaxBurst, maxTokens: l.MaxBurst, refillRate: l.RefillInterval, lastRefill: now}
	}
	return &Limiter{limits: limits, buckets: buckets, def: def}
}

// Allow reports whether a frame of the given packet type should be
// processed, consuming a token if so.
func (l *Limiter) Allow(packetType uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[packetType]
	if !ok {
		b = &bucket{tokens: l.def.MaxBurst, maxTokens: l.def.MaxBurst, refillRate: l.def.RefillInterval, lastRefill: time.Now()}
		l.buckets[packetType] = b
	}

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if b.refillRate > 0 && elapsed >= b.refillRate && b.tokens < b.maxTokens {
		b.tokens += int(elapsed / b.refillRate)
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	slog.Warn("ratelimit: dropping frame over limit", "packetType", packetType)
	return false
}
