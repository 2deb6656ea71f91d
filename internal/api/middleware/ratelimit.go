package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// ipLimiter holds the per-IP bucket table for one middleware instance.
// Instances never share state, so two routers get independent buckets.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*limiterEntry
	rps      float64
	burst    int
}

func getIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	le, ok := l.visitors[ip]
	if !ok {
		le = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.visitors[ip] = le
	}
	le.last = time.Now()
	return le.limiter.Allow()
}

func (l *ipLimiter) gc(every, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for k, v := range l.visitors {
				if time.Since(v.last) > maxIdle {
					delete(l.visitors, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RateLimit applies a simple IP-based token bucket limiter.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	mw, _ := newRateLimit(rps, burst)
	return mw
}

// newRateLimit returns the middleware plus a stop function for its GC loop.
func newRateLimit(rps float64, burst int) (func(http.Handler) http.Handler, func()) {
	l := &ipLimiter{
		visitors: map[string]*limiterEntry{},
		rps:      rps,
		burst:    burst,
	}
	stop := make(chan struct{})
	go l.gc(5*time.Minute, 10*time.Minute, stop)

	var once sync.Once
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(getIP(r)) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return mw, func() { once.Do(func() { close(stop) }) }
}
