package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiter keeps one token bucket per client key. Buckets idle for longer
// than ttl are swept on the next sweep interval.
type limiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	m         map[string]*visitor
	lastSweep time.Time
}

func newLimiter(reqPerMin, burst int, ttl time.Duration) *limiter {
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		limit: rate.Every(time.Minute / time.Duration(reqPerMin)),
		burst: burst,
		ttl:   ttl,
		m:     make(map[string]*visitor),
	}
}

func (l *limiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	v := l.m[key]
	if v == nil {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = v
	}
	v.lastSeen = now
	if now.Sub(l.lastSweep) > time.Minute {
		for k, other := range l.m {
			if now.Sub(other.lastSeen) > l.ttl {
				delete(l.m, k)
			}
		}
		l.lastSweep = now
	}
	l.mu.Unlock()
	return v.lim.AllowN(now, 1)
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// RateLimit returns a middleware that rate-limits by remote IP.
// Example: RateLimit(120, 60) => 120 req/min with burst 60
func RateLimit(reqPerMin int, burst int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		// disabled
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(reqPerMin, burst, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return limitWith(next, func(*http.Request) *limiter { return l })
	}
}

// RateLimitByRole limits admin-key holders and everyone else with separate
// budgets, both keyed by client IP.
func RateLimitByRole(keys Keys, publicRPM, publicBurst, adminRPM, adminBurst int) func(http.Handler) http.Handler {
	pub := newLimiter(max(publicRPM, 1), publicBurst, 10*time.Minute)
	adm := newLimiter(max(adminRPM, 1), adminBurst, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return limitWith(next, func(r *http.Request) *limiter {
			if keys.IsAdmin(r) {
				return adm
			}
			return pub
		})
	}
}

func limitWith(next http.Handler, pick func(*http.Request) *limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !pick(r).allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// honor X-Forwarded-For if behind a proxy
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
