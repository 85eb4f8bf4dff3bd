package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

// ProtectedNotifier bounds every send with a timeout and stops calling a
// failing provider until the cooldown passes.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	cb    *gobreaker.CircuitBreaker
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	//defaults
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	threshold := uint32(cfg.FailureThreshold)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "review-notifier",
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &ProtectedNotifier{inner: inner, cfg: cfg, cb: cb}
}

func (n *ProtectedNotifier) NotifyReviewDecision(ctx context.Context, d ReviewDecision) error {
	_, err := n.cb.Execute(func() (interface{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()

		return nil, n.inner.NotifyReviewDecision(sendCtx, d)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (n *ProtectedNotifier) State() string {
	return n.cb.State().String()
}
