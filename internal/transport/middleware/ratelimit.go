package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/infinity086/labtasker/internal/labtasklog"
)

// RateLimiter implements a token bucket rate limiter, ported from the
// teacher's internal/api/middleware/ratelimit.go.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter with the specified requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 1000
	}
	now := time.Now()
	return &RateLimiter{
		tokens:     float64(rps),
		maxTokens:  float64(rps),
		refillRate: float64(rps),
		lastRefill: now,
		lastSeen:   now,
	}
}

// Allow checks if a request is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
	rl.lastSeen = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// idleSince reports how long it has been since this limiter last saw a
// request.
func (rl *RateLimiter) idleSince(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastSeen)
}

// ClientRateLimiter maintains per-client rate limiters, keyed on the
// fetching worker's remote address (since Labtasker clients are workers
// polling fetch-next, not browser users behind a shared proxy).
type ClientRateLimiter struct {
	limiters map[string]*RateLimiter
	rps      int
	mu       sync.RWMutex
	cleanup  time.Duration
}

// NewClientRateLimiter creates a new per-client rate limiter.
func NewClientRateLimiter(rps int) *ClientRateLimiter {
	crl := &ClientRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rps:      rps,
		cleanup:  5 * time.Minute,
	}
	go crl.cleanupLoop()
	return crl
}

// cleanupLoop evicts limiters that have gone idle for longer than the
// cleanup interval. Labtasker clients are long-lived workers polling
// fetch-next continuously, so a wholesale reset (the teacher's approach)
// would hand every still-active worker a fresh token bucket every sweep,
// defeating the limiter for exactly the clients it exists to bound.
func (crl *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(crl.cleanup)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		crl.mu.Lock()
		for id, limiter := range crl.limiters {
			if limiter.idleSince(now) >= crl.cleanup {
				delete(crl.limiters, id)
			}
		}
		crl.mu.Unlock()
	}
}

// GetLimiter returns the rate limiter for a client.
func (crl *ClientRateLimiter) GetLimiter(clientID string) *RateLimiter {
	crl.mu.RLock()
	limiter, exists := crl.limiters[clientID]
	crl.mu.RUnlock()
	if exists {
		return limiter
	}

	crl.mu.Lock()
	defer crl.mu.Unlock()
	if limiter, exists = crl.limiters[clientID]; exists {
		return limiter
	}
	limiter = NewRateLimiter(crl.rps)
	crl.limiters[clientID] = limiter
	return limiter
}

// ClientRateLimit returns a middleware that enforces per-client rate limiting.
func ClientRateLimit(rps int) func(next http.Handler) http.Handler {
	limiter := NewClientRateLimiter(rps)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-Forwarded-For")
			if clientID == "" {
				clientID = r.RemoteAddr
			}

			clientLimiter := limiter.GetLimiter(clientID)
			if !clientLimiter.Allow() {
				labtasklog.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("client", clientID).
					Msg("client rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too Many Requests","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
