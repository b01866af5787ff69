// rate_limiter.go - Per-client token bucket rate limiting for the REST API.

package main

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a token bucket refilled at a fixed rate.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate int // tokens added per period
	period     time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a bucket of maxTokens refilled with refillRate
// tokens per period.
func NewRateLimiter(maxTokens, refillRate int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		period:     period,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refills := int(now.Sub(rl.lastRefill) / rl.period)
	if refills > 0 {
		rl.tokens += refills * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// ClientRateLimiter keeps one bucket per remote host.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*RateLimiter
	maxTokens  int
	refillRate int
	period     time.Duration
}

// NewClientRateLimiter creates the per-client limiter map.
func NewClientRateLimiter(maxTokens, refillRate int, period time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:   make(map[string]*RateLimiter),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		period:     period,
	}
}

// Allow consumes a token from the named client's bucket.
func (crl *ClientRateLimiter) Allow(client string) bool {
	crl.mu.Lock()
	limiter, ok := crl.limiters[client]
	if !ok {
		limiter = NewRateLimiter(crl.maxTokens, crl.refillRate, crl.period)
		crl.limiters[client] = limiter
	}
	crl.mu.Unlock()
	return limiter.Allow()
}

// Middleware rejects requests exceeding the client's budget with 429.
func (crl *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !crl.Allow(host) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
