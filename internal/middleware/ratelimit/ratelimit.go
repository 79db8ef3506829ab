// Package ratelimit throttles writer requests per client address.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter allows a fixed number of requests per client per window.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window
	now     func() time.Time

	limit           int
	period          time.Duration
	cleanupInterval time.Duration

	rejected     atomic.Int64
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type window struct {
	start    time.Time
	requests int
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter starts a limiter and its cleanup goroutine; call Stop to end it.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	rl := &Limiter{
		clients:         make(map[string]*window),
		now:             time.Now,
		limit:           config.RequestsPerMinute,
		period:          time.Minute,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// Allow reports whether clientIP may make another request now. Windows are
// fixed: the count resets one period after the window's first request.
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[clientIP]
	if !ok || now.Sub(w.start) >= rl.period {
		rl.clients[clientIP] = &window{start: now, requests: 1}
		return true
	}
	if w.requests >= rl.limit {
		rl.rejected.Add(1)
		return false
	}
	w.requests++
	return true
}

// retryAfter is the time left in clientIP's window.
func (rl *Limiter) retryAfter(clientIP string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.clients[clientIP]
	if !ok {
		return 0
	}
	return max(w.start.Add(rl.period).Sub(rl.now()), 0)
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients whose window has expired.
func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for ip, w := range rl.clients {
		if now.Sub(w.start) >= rl.period {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() { close(rl.stopCleanup) })
}

type Metrics struct {
	Rejected    int64
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	rl.mu.Lock()
	clients := int64(len(rl.clients))
	rl.mu.Unlock()
	return Metrics{Rejected: rl.rejected.Load(), ClientCount: clients}
}

// Middleware rejects requests over the limit with 429. onLimit, when set,
// writes the rejection body.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractIP(r)
			if !rl.Allow(clientIP) {
				secs := int(rl.retryAfter(clientIP).Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
