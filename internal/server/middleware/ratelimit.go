package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"custodial-ledger/internal/server/response"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	log      logrus.FieldLogger
	nowF     func() time.Time
}

// NewRateLimiter returns a limiter allowing rps requests per second with the given burst per client.
func NewRateLimiter(rps float64, burst int, log logrus.FieldLogger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		log:      log,
		nowF:     time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	now := rl.nowF()
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Handler rejects requests over budget with rate_limited.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !rl.allow(key) {
			rl.log.WithFields(logrus.Fields{"client_ip": key, "route": c.FullPath()}).Warn("rate limit exceeded")
			response.Abort(c, rl.log, response.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// Cleanup forgets clients idle for longer than idle. Returns the number removed.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.nowF().Add(-idle)
	n := 0
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
			n++
		}
	}
	return n
}

// StartCleanup runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(interval)
			case <-stop:
				return
			}
		}
	}()
}
