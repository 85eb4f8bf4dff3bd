// Package worker runs the periodic maintenance sweeps: expired role grants
// and stale refresh tokens.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is one sweep. Run receives the round's clock reading and returns the
// number of rows it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

type Recorder interface {
	ObserveSweep(task string, rows int64, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSweep(string, int64, error) {}

type Config struct {
	Interval    time.Duration
	TaskTimeout time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// UnhealthyAfter consecutive failed rounds flips readiness off.
	UnhealthyAfter int
	Logger         *slog.Logger
	Now            func() time.Time
}

type Worker struct {
	cfg     Config
	tasks   []Task
	metrics Recorder
	log     *slog.Logger

	readyMu  sync.RWMutex
	running  bool
	failures int
	lastErr  error
	lastRun  time.Time
}

func New(cfg Config, metrics Recorder, tasks ...Task) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:     cfg,
		tasks:   tasks,
		metrics: metrics,
		log:     log.With("component", "sweeper"),
	}
}

// RunOnce runs every task once. A failing task does not stop the others; the
// failures are joined into the returned error.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.cfg.Now().UTC()

	var errs []error
	for _, t := range w.tasks {
		taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
		rows, err := t.Run(taskCtx, now)
		cancel()

		w.metrics.ObserveSweep(t.Name, rows, err)

		if err != nil {
			w.log.Error("sweep failed", "task", t.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		if rows > 0 {
			w.log.Info("sweep removed rows", "task", t.Name, "rows", rows)
		}
	}

	err := errors.Join(errs...)

	w.readyMu.Lock()
	w.lastRun = now
	w.lastErr = err
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	w.readyMu.Unlock()

	return err
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
// After a failed round the next one comes sooner, on an exponential backoff
// capped at MaxBackoff, but never later than Interval.
func (w *Worker) Run(ctx context.Context) error {
	w.setRunning(true)
	defer w.setRunning(false)

	w.log.Info("sweeper started", "interval", w.cfg.Interval, "tasks", len(w.tasks))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper received shutdown signal")
			return nil

		case <-timer.C:
			next := w.cfg.Interval
			if err := w.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if delay := ExponentialBackoff(w.consecutiveFailures()-1, w.cfg.BaseBackoff, w.cfg.MaxBackoff); delay < next {
					next = delay
				}
			}
			timer.Reset(next)
		}
	}
}

func (w *Worker) setRunning(v bool) {
	w.readyMu.Lock()
	w.running = v
	w.readyMu.Unlock()
}

func (w *Worker) consecutiveFailures() int {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.failures
}

// Status is the readiness snapshot served on /readyz.
type Status struct {
	Ready     bool      `json:"ready"`
	Running   bool      `json:"running"`
	Failures  int       `json:"consecutiveFailures"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

func (w *Worker) Status() Status {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()

	s := Status{
		Running:  w.running,
		Failures: w.failures,
		LastRun:  w.lastRun,
		Ready:    w.running && w.failures < w.cfg.UnhealthyAfter,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}
