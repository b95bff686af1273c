package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"argus-siem/internal/config"
)

// rateLimiter tracks per-IP request counts over a fixed window. The
// window resets in place rather than sliding, which keeps per-request
// cost to one map lookup and one counter bump.
type rateLimiter struct {
	cfg    config.RateLimit
	limit  int64
	exempt map[string]bool

	mu      sync.Mutex
	clients map[string]*ipWindow

	allowed atomic.Int64
	limited atomic.Int64

	stop chan struct{}
}

type ipWindow struct {
	count     int64
	windowEnd time.Time
}

func newRateLimiter(cfg config.RateLimit) *rateLimiter {
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, path := range cfg.ExemptPaths {
		exempt[path] = true
	}

	rl := &rateLimiter{
		cfg:     cfg,
		limit:   int64(cfg.RequestsPerIP + cfg.BurstSize),
		exempt:  exempt,
		clients: make(map[string]*ipWindow),
		stop:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// allow reports whether a request from ip fits the current window,
// along with the remaining budget and the window reset time.
func (rl *rateLimiter) allow(ip string) (bool, int64, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.clients[ip]
	if !ok || now.After(w.windowEnd) {
		w = &ipWindow{windowEnd: now.Add(rl.cfg.WindowSize)}
		rl.clients[ip] = w
	}

	if w.count >= rl.limit {
		return false, 0, w.windowEnd
	}

	w.count++
	return true, rl.limit - w.count, w.windowEnd
}

func (rl *rateLimiter) cleanupLoop() {
	period := rl.cfg.CleanupPeriod
	if period <= 0 {
		period = 5 * time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropStale()
		case <-rl.stop:
			return
		}
	}
}

// dropStale evicts windows idle long enough that their counts can no
// longer matter. Two windows of slack avoids evicting an entry whose
// reset headers a client may still be honoring.
func (rl *rateLimiter) dropStale() {
	cutoff := time.Now().Add(-2 * rl.cfg.WindowSize)

	rl.mu.Lock()
	removed := 0
	for ip, w := range rl.clients {
		if w.windowEnd.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	remaining := len(rl.clients)
	rl.mu.Unlock()

	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", remaining)
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.stop)
}

// rateLimitMiddleware rejects clients that exceed the per-IP budget.
func rateLimitMiddleware(next http.Handler, cfg config.RateLimit) http.Handler {
	rl := newRateLimiter(cfg)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r, cfg.TrustProxy)
		ok, remaining, reset := rl.allow(ip)

		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		hdr.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !ok {
			rl.limited.Add(1)
			slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)

			retryAfter := int(time.Until(reset).Seconds()) + 1
			hdr.Set("Retry-After", strconv.Itoa(retryAfter))
			respondError(w, http.StatusTooManyRequests, "too many requests", "")
			return
		}

		rl.allowed.Add(1)
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address, honoring proxy headers
// only when the deployment says to trust them.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx >= 0 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
