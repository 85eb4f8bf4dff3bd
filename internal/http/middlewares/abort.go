package middlewares

import (
	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

func RequestIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(CtxRequestID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.GetHeader(requestIDHeader)
}

// AbortWithError writes the failure envelope for err and stops the chain.
// Forbidden details are repeated at the top level of the body.
func AbortWithError(c *gin.Context, err error) {
	e := apperr.As(err)

	body := gin.H{
		"success": false,
		"error":   e.Message,
		"code":    e.Code,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
		if e.Kind == apperr.KindForbidden {
			for k, v := range e.Details {
				body[k] = v
			}
		}
	}
	if id := RequestIDFromContext(c); id != "" {
		body["requestId"] = id
	}

	c.AbortWithStatusJSON(e.Status(), body)
}
