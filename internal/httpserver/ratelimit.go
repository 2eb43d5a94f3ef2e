// internal/httpserver/ratelimit.go
//
// Per-remote-address token-bucket rate limiting for mutation routes.
// Guess submissions arrive in bursts when several players type at once; the
// bucket absorbs the burst and throttles abuse.

package httpserver

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// visitorLimits holds one limiter per remote address.
type visitorLimits struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// newVisitorLimits reads RATE_LIMIT_RPS / RATE_LIMIT_BURST (defaults 10/20).
func newVisitorLimits() *visitorLimits {
	rps := 10.0
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			rps = n
		}
	}
	burst := 20
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return &visitorLimits{
		visitors: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// limiter returns the limiter for one address, creating it on first sight.
func (v *visitorLimits) limiter(addr string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	if l, ok := v.visitors[addr]; ok {
		return l
	}
	l := rate.NewLimiter(v.rps, v.burst)
	v.visitors[addr] = l
	return l
}

// rateLimit rejects requests over the per-address budget with 429.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !s.limits.limiter(host).Allow() {
				http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
