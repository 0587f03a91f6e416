package httpapi

// ratelimit.go is a per-IP token-bucket limiter on mutating endpoints,
// built on golang.org/x/time/rate. HTTP-level auth/rate-limiting stays
// outside core; this is ambient scaffolding around the HTTP surface only.

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"fractal-vortex-chain/core"
)

const (
	rateLimitPerSecond = 5
	rateLimitBurst     = 10
)

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimit rejects requests past the per-IP token bucket with 429,
// mapped through ErrRateLimited so the envelope stays consistent with the
// rest of the error taxonomy.
func RateLimit(next http.Handler) http.Handler {
	limiter := newIPLimiter()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !limiter.allow(host) {
			writeError(w, http.StatusTooManyRequests, core.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
