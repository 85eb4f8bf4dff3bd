package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps the request body. Multipart routes get a larger cap than
// JSON routes so the upload gate, not the reader, reports oversized files.
func MaxBodyBytes(jsonMax, multipartMax int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		limit := jsonMax
		if ctx.ContentType() == "multipart/form-data" {
			limit = multipartMax
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)

		ctx.Next()
	}
}
