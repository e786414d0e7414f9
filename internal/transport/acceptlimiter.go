package transport

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// AcceptLimiter throttles new connections per remote address, a second
// line of defense in front of each connection's own per-frame token bucket
// (spec.md §5 resource policy). Adapted from the teacher's per-token
// RateLimiter, keyed by remote host instead of a bearer token since this
// core has no cryptographic auth.
type AcceptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewAcceptLimiter returns a limiter allowing ratePerSecond new connections
// per remote host, with the given burst.
func NewAcceptLimiter(ratePerSecond float64, burst int) *AcceptLimiter {
	return &AcceptLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

// Allow reports whether a new connection from remoteAddr should be accepted.
func (a *AcceptLimiter) Allow(remoteAddr string) bool {
	return a.limiterFor(hostOnly(remoteAddr)).Allow()
}

func (a *AcceptLimiter) limiterFor(host string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.limiters[host]
	if !ok {
		l = rate.NewLimiter(a.rate, a.burst)
		a.limiters[host] = l
	}
	return l
}

// Reset clears all tracked per-host limiters, bounding memory growth across
// a long-running process. Intended to be called periodically by a
// maintenance job rather than on every connection.
func (a *AcceptLimiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limiters = make(map[string]*rate.Limiter)
}

func hostOnly(remoteAddr string) string {
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		return remoteAddr[:idx]
	}
	return remoteAddr
}
