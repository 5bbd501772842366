// internal/server/middleware.go
package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"humanizer-api/internal/common/config"
	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/common/metrics"
)

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogging assigns each request an id and logs method, path, status
// and duration on completion.
func requestLogging(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		log.Info("Request completed", map[string]interface{}{
			"requestId": requestID,
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rec.status,
			"duration":  time.Since(start).String(),
		})
	})
}

// clientLimiter is one client address's token bucket plus its last use, so
// idle entries can be pruned.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a per-client-address quota. Clients idle for several
// windows are dropped from the table.
type rateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	logger   logger.Logger
	lastScan time.Time
}

func newRateLimiter(cfg config.RateLimitConfig, log logger.Logger) *rateLimiter {
	window := time.Duration(cfg.Window) * time.Second
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.Requests) / window.Seconds()),
		burst:   cfg.Requests,
		idleTTL: 3 * window,
		logger:  log,
	}
}

func (rl *rateLimiter) allow(clientAddr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastScan) > rl.idleTTL {
		for addr, entry := range rl.clients {
			if now.Sub(entry.lastSeen) > rl.idleTTL {
				delete(rl.clients, addr)
			}
		}
		rl.lastScan = now
	}

	entry, ok := rl.clients[clientAddr]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientAddr] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (rl *rateLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientAddr := clientAddress(r)
		if !rl.allow(clientAddr) {
			metrics.RateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded", map[string]interface{}{
				"client": clientAddr,
				"path":   r.URL.Path,
			})
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
