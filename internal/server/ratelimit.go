// ratelimit.go - Sliding-window rate limiting keyed by client IP.
//
// The in-memory limiter suits a single instance; RedisLimiter shares the
// window across replicas.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"club-feedback/internal/logging"
)

const (
	apiLimitMessage    = "Too many requests from this IP, please try again later."
	submitLimitMessage = "Too many feedback submissions. Please try again later."
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// Limiter counts requests per key over a rolling window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// memoryLimiter tracks request timestamps per key in process memory.
type memoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type visitor struct {
	mu       sync.Mutex
	requests []time.Time
}

// newMemoryLimiter allows rate requests per window for each key and starts
// a janitor goroutine that runs until Stop.
func newMemoryLimiter(rate int, window time.Duration) *memoryLimiter {
	rl := &memoryLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rl.cleanup(time.Minute)
	return rl
}

func (rl *memoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{requests: make([]time.Time, 0, rl.rate)}
		rl.visitors[key] = v
	}
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept

	if len(v.requests) >= rl.rate {
		return Decision{Limit: rl.rate}, nil
	}
	v.requests = append(v.requests, now)
	return Decision{Allowed: true, Limit: rl.rate, Remaining: rl.rate - len(v.requests)}, nil
}

// Stop ends the janitor goroutine. It is safe to call more than once.
func (rl *memoryLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

func (rl *memoryLimiter) cleanup(every time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops keys whose newest request is older than the window.
func (rl *memoryLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, v := range rl.visitors {
		v.mu.Lock()
		if len(v.requests) == 0 || !v.requests[len(v.requests)-1].After(cutoff) {
			delete(rl.visitors, key)
		}
		v.mu.Unlock()
	}
}

// rateLimitMiddleware rejects requests over l's budget with a 429. name
// labels the limiter in logs and metrics. When headers is set, the
// RateLimit-Limit and RateLimit-Remaining headers are written on every
// response. A limiter error lets the request through.
func rateLimitMiddleware(l Limiter, name, message string, headers, trustProxy bool, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r, trustProxy)

			d, err := l.Allow(r.Context(), ip)
			if err != nil {
				fields := map[string]any{
					"limiter":    name,
					"request_id": RequestIDFromContext(r.Context()),
				}
				if errors.Is(err, ErrCircuitOpen) {
					log.Debug("rate_limiter_skipped", fields)
				} else {
					log.WithError(err).Warn("rate_limiter_unavailable", fields)
				}
				next.ServeHTTP(w, r)
				return
			}

			if headers {
				w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}

			if !d.Allowed {
				rateLimited.WithLabelValues(name).Inc()
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"success": false,
					"message": message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client's IP address. Forwarding headers are
// only consulted when trustProxy is set; otherwise any client could pick
// its own rate-limit key.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
