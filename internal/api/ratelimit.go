// Per-client request budget for the endpoints that return whole position
// dumps. Each client gets maxRate requests per fixed window.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per client address in fixed windows.
type RateLimiter struct {
	maxRate int
	window  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*usage
	stop    chan struct{}
	once    sync.Once
}

// usage is one client's count in the window that opened at start.
type usage struct {
	start time.Time
	count int
}

// NewRateLimiter allows maxRate requests per window per client. Idle
// clients are forgotten after two windows.
func NewRateLimiter(maxRate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxRate: maxRate,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*usage),
		stop:    make(chan struct{}),
	}
	go rl.sweep(2 * window)
	return rl
}

// Allow records a request from client and reports whether it fits the
// budget of the current window.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.clients[client]
	if u == nil || now.Sub(u.start) >= rl.window {
		u = &usage{start: now}
		rl.clients[client] = u
	}
	if u.count >= rl.maxRate {
		return false
	}
	u.count++
	return true
}

// RetryAfter returns the whole seconds until client's window reopens, or 0
// if it is not limited.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u := rl.clients[client]
	if u == nil {
		return 0
	}
	left := u.start.Add(rl.window).Sub(rl.now())
	if left <= 0 {
		return 0
	}
	return int(left.Seconds()) + 1
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
			rl.forgetIdle()
		}
	}
}

// forgetIdle drops clients whose window closed more than a window ago.
func (rl *RateLimiter) forgetIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.window)
	for c, u := range rl.clients {
		if u.start.Before(cutoff) {
			delete(rl.clients, c)
		}
	}
}

// clientIP returns the first X-Forwarded-For address for proxied requests,
// else the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware answers 429 with a Retry-After header once a client
// has spent its budget.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
