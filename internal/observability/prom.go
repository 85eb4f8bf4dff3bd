package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "learnhub"

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Moderation
	TransitionsTotal *prometheus.CounterVec
	UploadsTotal     *prometheus.CounterVec

	// Auth
	AuthFailuresTotal *prometheus.CounterVec
	RateLimitedTotal  *prometheus.CounterVec
	TokenRefreshTotal *prometheus.CounterVec

	// Sweeper
	SweepRunsTotal *prometheus.CounterVec
	SweptRowsTotal *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "moderation",
				Name:      "transitions_total",
				Help:      "Module status transitions by action and outcome.",
			},
			[]string{"action", "outcome"}, // outcome=ok|forbidden|invalid|not_found|error
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "moderation",
				Name:      "uploads_total",
				Help:      "Module uploads by outcome.",
			},
			[]string{"outcome"}, // outcome=ok|wrong_type|too_large|malformed_content|error
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Rejected credentials by reason.",
			},
			[]string{"reason"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limiter.",
			},
			[]string{"scope"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "refresh_total",
				Help:      "Refresh token rotations by result.",
			},
			[]string{"result"},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "runs_total",
				Help:      "Sweeper task runs by outcome.",
			},
			[]string{"task", "outcome"},
		),
		SweptRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "rows_total",
				Help:      "Rows expired or purged by the sweeper.",
			},
			[]string{"task"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.TransitionsTotal, p.UploadsTotal,
		p.AuthFailuresTotal, p.RateLimitedTotal, p.TokenRefreshTotal,
		p.SweepRunsTotal, p.SweptRowsTotal,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

// The methods below are nil-safe so services can run without metrics in tests.

func (p *Prom) ObserveTransition(action, outcome string) {
	if p == nil {
		return
	}
	p.TransitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (p *Prom) ObserveUpload(outcome string) {
	if p == nil {
		return
	}
	p.UploadsTotal.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveAuthFailure(reason string) {
	if p == nil {
		return
	}
	p.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

func (p *Prom) ObserveRateLimited(scope string) {
	if p == nil {
		return
	}
	p.RateLimitedTotal.WithLabelValues(scope).Inc()
}

func (p *Prom) ObserveRefresh(result string) {
	if p == nil {
		return
	}
	p.TokenRefreshTotal.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveSweep(task string, rows int64, err error) {
	if p == nil {
		return
	}
	if err != nil {
		p.SweepRunsTotal.WithLabelValues(task, "error").Inc()
		return
	}
	p.SweepRunsTotal.WithLabelValues(task, "ok").Inc()
	p.SweptRowsTotal.WithLabelValues(task).Add(float64(rows))
}
