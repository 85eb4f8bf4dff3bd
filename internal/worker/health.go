package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves liveness, readiness and, when a gatherer is given,
// metrics for the sweeper process.
func (w *Worker) HealthHandler(gatherer prometheus.Gatherer) http.Handler {
	r := gin.New()

	r.Use(gin.Recovery())

	// liveness: process is up
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"ok": true,
		})
	})

	// readiness: loop is running and recent rounds are succeeding
	r.GET("/readyz", func(c *gin.Context) {
		s := w.Status()
		if !s.Ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "sweeper": s})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "sweeper": s})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
