// Package ratelimit implements the request-rate collaborator: IP-keyed
// for unauthenticated routes, user-keyed for authenticated ones, with an
// admin exemption. A token-bucket limiter keyed by an arbitrary string
// (one *rate.Limiter per key, built lazily, swept periodically).
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the token bucket applied per key.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// MaxTrackedKeys bounds memory: once exceeded, Limiter resets its
	// entire table on the next sweep rather than tracking per-key
	// last-used time.
	MaxTrackedKeys int
}

// DefaultConfig is a permissive starting point for development.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 20, MaxTrackedKeys: 10000}
}

// Limiter hands out one token bucket per key (IP or user_id).
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLimiter creates a Limiter and starts its hourly sweep goroutine.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
		stopCh:  make(chan struct{}),
	}
	go l.sweepPeriodically()
	return l
}

// Stop halts the sweep goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Result is the outcome of a rate-limit check, carrying enough to populate
// Retry-After / X-RateLimit-* response headers regardless of outcome.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	RetryAfter time.Duration
}

// Allow consumes one token from key's bucket, creating the bucket on first
// use.
func (l *Limiter) Allow(key string) Result {
	limiter := l.bucketFor(key)

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return Result{Allowed: false, Limit: l.cfg.Burst}
	}

	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return Result{
			Allowed:    false,
			Limit:      l.cfg.Burst,
			RetryAfter: delay,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     l.cfg.Burst,
		Remaining: int(limiter.Tokens()),
	}
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.buckets[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.buckets[key] = limiter
	}
	return limiter
}

func (l *Limiter) sweepPeriodically() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep clears the entire bucket table once it grows past MaxTrackedKeys.
// A real LRU would be more precise but this is adequate for the bounded
// set of IPs/users this system actually serves.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buckets) > l.cfg.MaxTrackedKeys {
		l.buckets = make(map[string]*rate.Limiter)
	}
}

// ClientIP extracts the caller's IP, preferring X-Forwarded-For /
// X-Real-IP (set by an upstream proxy) over RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
