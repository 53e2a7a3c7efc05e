package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"studyhall/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MaxBodyBytes caps request bodies. The API only accepts small JSON documents.
const MaxBodyBytes = 1 << 20

// SecurityHeadersMiddleware sets response headers for a JSON-only API
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// LimitBodyMiddleware rejects request bodies larger than MaxBodyBytes
func LimitBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute requests per IP with bursts up to burst
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
}

// Allow reports whether ip may make another request now
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Cleanup forgets visitors idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxIdle)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// RateLimitConfig holds one limiter per route class
type RateLimitConfig struct {
	// AuthLimiter guards login and registration
	AuthLimiter *RateLimiter
	// WriteLimiter guards every other mutating request
	WriteLimiter *RateLimiter
	// GlobalLimiter guards reads
	GlobalLimiter *RateLimiter
}

// NewDefaultRateLimitConfig returns production limits
func NewDefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		AuthLimiter:   NewRateLimiter(10, 5),
		WriteLimiter:  NewRateLimiter(60, 20),
		GlobalLimiter: NewRateLimiter(300, 60),
	}
}

// StartCleanup drops idle visitors every interval until stop is closed
func (c *RateLimitConfig) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n := c.AuthLimiter.Cleanup(interval) + c.WriteLimiter.Cleanup(interval) + c.GlobalLimiter.Cleanup(interval)
				if n > 0 {
					log.Debug().Int("removed", n).Msg("rate limiter cleanup")
				}
			}
		}
	}()
}

func (c *RateLimitConfig) limiterFor(r *http.Request) *RateLimiter {
	if r.Method == http.MethodPost && (r.URL.Path == "/api/login" || r.URL.Path == "/api/users") {
		return c.AuthLimiter
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return c.GlobalLimiter
	}
	return c.WriteLimiter
}

// RateLimitMiddleware rejects clients that exceed their route class limit
func RateLimitMiddleware(config *RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Scrapes come from inside the cluster
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			ip := GetClientIP(r)
			if !config.limiterFor(r).Allow(ip) {
				metrics.RateLimitedTotal.Inc()
				log.Warn().Str("client_ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
				w.Header().Set("Retry-After", "60")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"status":"error","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
