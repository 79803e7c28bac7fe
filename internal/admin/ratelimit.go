package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"
)

// maxClientLimiters 同时跟踪的客户端上限
const maxClientLimiters = 10000

// clientLimiter 按客户端 IP 的令牌桶，空闲超过 idle 的客户端被淘汰
type clientLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *otter.Cache[string, *rate.Limiter]
}

func newClientLimiter(r float64, burst int, idle time.Duration, clock otter.Clock) (*clientLimiter, error) {
	limiters, err := otter.New(&otter.Options[string, *rate.Limiter]{
		MaximumSize:      maxClientLimiters,
		ExpiryCalculator: otter.ExpiryAccessing[string, *rate.Limiter](idle),
		Clock:            clock,
	})
	if err != nil {
		return nil, err
	}
	return &clientLimiter{
		limit:    rate.Limit(r),
		burst:    burst,
		limiters: limiters,
	}, nil
}

func (l *clientLimiter) allow(key string) bool {
	lim, ok := l.limiters.GetIfPresent(key)
	if !ok {
		lim, _ = l.limiters.SetIfAbsent(key, rate.NewLimiter(l.limit, l.burst))
	}
	return lim.Allow()
}

// rateLimitMiddleware 超出限制时返回 429
func rateLimitMiddleware(l *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			c.Next()
			return
		}
		if !l.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
