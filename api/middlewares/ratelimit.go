package middlewares

import (
	"net/http"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

// ChunkRateLimit throttles chunk uploads per client IP. A zero rate disables it.
func ChunkRateLimit(cfg types.RateLimitConfig) gin.HandlerFunc {
	if cfg.ChunksPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := max(cfg.Burst, 1)
	limiters := ttlworker.NewCache[string, *rate.Limiter](limiterIdleTTL)
	var mu sync.Mutex

	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		l := limiters.Get(ip)
		if l == nil {
			l = rate.NewLimiter(rate.Limit(cfg.ChunksPerSecond), burst)
		}
		// refresh the expiry on every hit
		limiters.Set(ip, l)
		mu.Unlock()

		if !l.Allow() {
			tool.DefaultLogger.Warnf("[RateLimit] chunk upload from %s throttled", ip)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, tool.FastReturnErrorWithData("too many requests", map[string]any{
				"code":      "rate_limited",
				"retryable": true,
			}))
			return
		}
		c.Next()
	}
}
