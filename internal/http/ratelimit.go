package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterExpiry = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a per-client token bucket to the REST endpoints.
type rateLimiter struct {
	logger *zap.Logger
	limit  rate.Limit
	burst  int

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

func newRateLimiter(logger *zap.Logger, limit rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{
		logger:  logger,
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

func (r *rateLimiter) middleware() gin.HandlerFunc {
	go r.cleanup()

	return func(c *gin.Context) {
		key := c.ClientIP()
		if !r.limiterFor(key).Allow() {
			if r.logger != nil {
				r.logger.Warn("rate limit exceeded",
					zap.String("client_ip", key),
					zap.String("path", c.Request.URL.Path),
				)
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}

func (r *rateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (r *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)

		r.mu.Lock()
		for key, entry := range r.clients {
			if time.Since(entry.lastSeen) > limiterExpiry {
				delete(r.clients, key)
			}
		}
		r.mu.Unlock()
	}
}
