// Package ratelimit guards the WebSocket door with per-IP connection limits.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/metrics"
)

// RateLimiter holds the limiter instances backing connection admission.
type RateLimiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewRateLimiter builds a memory-store rate limiter from the configured
// rate strings (e.g. "100-M").
func NewRateLimiter(wsIPRate string) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()
	return &RateLimiter{
		wsIP:  limiter.New(store, rate),
		store: store,
	}, nil
}

// CheckWebSocket checks if a WebSocket connection attempt should be allowed.
// Returns true if allowed, false if the limit is exceeded (and writes the
// 429 response). Store failures fail open.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS Rate limiter store failed (IP)", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
