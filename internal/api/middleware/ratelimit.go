package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting for API endpoints.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per IP.
	Rate rate.Limit
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns defaults for the read-only ops API:
// 20 requests/second with burst of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:   rate.Limit(20),
		Burst:  40,
		MaxAge: 10 * time.Minute,
	}
}

// ipLimitEntry tracks a per-IP rate limiter and when it was last used.
type ipLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter provides per-IP rate limiting for HTTP endpoints. Stale
// entries are pruned when new addresses appear.
type IPRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipLimitEntry
	cfg     RateLimitConfig
}

// NewIPRateLimiter creates a per-IP rate limiter.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	return &IPRateLimiter{
		entries: make(map[string]*ipLimitEntry),
		cfg:     cfg,
	}
}

// Allow checks whether a request from the given IP is allowed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[ip]
	if !ok {
		for addr, e := range rl.entries {
			if now.Sub(e.lastSeen) > rl.cfg.MaxAge {
				delete(rl.entries, addr)
			}
		}
		entry = &ipLimitEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// Handler returns middleware enforcing the rate limit. The client IP comes
// from RemoteAddr, which chi's RealIP middleware has already rewritten when
// a forwarding header is trusted.
func (rl *IPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.Allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
