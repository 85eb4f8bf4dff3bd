package middlewares

import (
	"log/slog"
	"math"
	"net"
	"strconv"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type RateLimitRecorder interface {
	ObserveRateLimited(scope string)
}

// RateLimit enforces limiter for the key derived by keyFn. A limiter backend
// failure lets the request through; losing the limit briefly is preferable to
// failing every upload while Redis is down.
func RateLimit(limiter ratelimit.Limiter, scope string, keyFn func(*gin.Context) string, metrics RateLimitRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate_limiter_unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			if metrics != nil {
				metrics.ObserveRateLimited(scope)
			}

			AbortWithError(c, &apperr.Error{
				Kind:    apperr.KindRateLimited,
				Code:    "rate_limited",
				Message: "Too many requests. Please try again later.",
				Details: map[string]any{"retryAfter": retryAfter},
			})
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return "ip:" + clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok {
		return "user:" + id
	}
	return KeyByIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}

	return ip
}
