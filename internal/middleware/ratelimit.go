package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows each client a budget of requests per window. Clients are
// keyed by account id when authenticated, otherwise by remote IP.
type RateLimiter struct {
	name     string
	requests int
	window   time.Duration
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	logger   *logger.Logger
	now      func() time.Time
}

// NewRateLimiter creates a limiter granting requests per window with a burst
// of the full budget. A non-positive budget disables limiting.
func NewRateLimiter(name string, requests int, window time.Duration, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	if window <= 0 {
		window = time.Minute
	}
	r := rate.Inf
	if requests > 0 {
		r = rate.Every(window / time.Duration(requests))
	}
	return &RateLimiter{
		name:     name,
		requests: requests,
		window:   window,
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		logger:   log,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.requests)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = rl.now()
	return entry.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.requests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"limiter": rl.name,
				"key":     key,
				"path":    r.URL.Path,
				"method":  r.Method,
			})
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window/time.Duration(rl.requests)/time.Second)+1))
			httputil.WriteErrorResponse(w, apperrors.RateLimitExceeded(rl.requests, rl.window.String()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops limiters idle for longer than a window; an idle limiter has
// refilled to its full burst anyway.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Window returns the budget window.
func (rl *RateLimiter) Window() time.Duration { return rl.window }

// Size reports how many clients currently hold a limiter.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// LimiterJanitor periodically drops idle per-client limiters. It satisfies
// the application's lifecycle Service interface.
type LimiterJanitor struct {
	limiters []*RateLimiter
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewLimiterJanitor sweeps each limiter every interval. A non-positive
// interval sweeps each limiter once per its own window.
func NewLimiterJanitor(interval time.Duration, limiters ...*RateLimiter) *LimiterJanitor {
	return &LimiterJanitor{limiters: limiters, interval: interval}
}

func (j *LimiterJanitor) Name() string { return "ratelimit-janitor" }

func (j *LimiterJanitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		return nil
	}
	j.stop = make(chan struct{})
	for _, rl := range j.limiters {
		if rl == nil {
			continue
		}
		interval := j.interval
		if interval <= 0 {
			interval = rl.Window()
		}
		rl.StartCleanup(interval, j.stop)
	}
	return nil
}

func (j *LimiterJanitor) Stop(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		close(j.stop)
		j.stop = nil
	}
	return nil
}
