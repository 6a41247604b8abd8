package pbx

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// registerRate / registerBurst bound how fast a single source address
	// may issue register messages. Re-registration is cheap and idempotent,
	// so the limit only has to stop floods, not normal churn.
	registerRate  = rate.Limit(5)
	registerBurst = 10

	// limiterMaxAge is how long an idle per-source limiter is kept.
	limiterMaxAge = 10 * time.Minute
)

// limiterEntry tracks a per-source rate limiter and when it was last used.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// registerLimiter applies a per-source-IP token bucket to register messages.
// Stale entries are pruned opportunistically on access.
type registerLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newRegisterLimiter() *registerLimiter {
	return &registerLimiter{entries: make(map[string]*limiterEntry)}
}

// allow reports whether a register from the given remote address (host:port
// or bare host) is within limits.
func (l *registerLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[host]
	if !ok {
		l.prune(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(registerRate, registerBurst)}
		l.entries[host] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// prune drops entries idle longer than limiterMaxAge. Called with the lock
// held, only when a new source shows up.
func (l *registerLimiter) prune(now time.Time) {
	for host, entry := range l.entries {
		if now.Sub(entry.lastSeen) > limiterMaxAge {
			delete(l.entries, host)
		}
	}
}
