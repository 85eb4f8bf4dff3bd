package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type sweepCall struct {
	task string
	rows int64
	err  error
}

type recorder struct {
	mu    sync.Mutex
	calls []sweepCall
}

func (r *recorder) ObserveSweep(task string, rows int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sweepCall{task, rows, err})
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 2 * time.Second, 2*time.Second + 250*time.Millisecond},
		{1, 4 * time.Second, 4*time.Second + 250*time.Millisecond},
		{3, 16 * time.Second, 16*time.Second + 250*time.Millisecond},
		{20, time.Minute, time.Minute + 250*time.Millisecond},
	}

	for _, tt := range tests {
		got := ExponentialBackoff(tt.attempt, 2*time.Second, time.Minute)
		if got < tt.min || got > tt.max {
			t.Fatalf("attempt %d: got %v, want within [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestRunOnce_RunsEveryTaskAndJoinsFailures(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("connection reset")

	var gotNow time.Time
	w := New(Config{Now: fixedNow}, rec,
		Task{Name: "role_grants", Run: func(_ context.Context, now time.Time) (int64, error) {
			gotNow = now
			return 3, nil
		}},
		Task{Name: "refresh_tokens", Run: func(context.Context, time.Time) (int64, error) {
			return 0, boom
		}},
		Task{Name: "after_failure", Run: func(context.Context, time.Time) (int64, error) {
			return 1, nil
		}},
	)

	err := w.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if !gotNow.Equal(fixedNow()) {
		t.Fatalf("tasks receive the round clock, got %v", gotNow)
	}
	if len(rec.calls) != 3 {
		t.Fatalf("every task is observed, got %d", len(rec.calls))
	}
	if rec.calls[0].rows != 3 || rec.calls[1].err == nil || rec.calls[2].task != "after_failure" {
		t.Fatalf("unexpected observations: %+v", rec.calls)
	}

	if s := w.Status(); s.Failures != 1 || s.LastError == "" {
		t.Fatalf("status should carry the failure, got %+v", s)
	}
}

func TestRunOnce_SuccessResetsFailures(t *testing.T) {
	fail := true
	w := New(Config{Now: fixedNow}, nil, Task{Name: "t", Run: func(context.Context, time.Time) (int64, error) {
		if fail {
			return 0, errors.New("down")
		}
		return 0, nil
	}})

	_ = w.RunOnce(context.Background())
	_ = w.RunOnce(context.Background())
	if got := w.Status().Failures; got != 2 {
		t.Fatalf("got %d failures, want 2", got)
	}

	fail = false
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s := w.Status(); s.Failures != 0 || s.LastError != "" {
		t.Fatalf("success should reset, got %+v", s)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ran := make(chan struct{}, 1)
	w := New(Config{Interval: time.Hour, Now: fixedNow}, nil, Task{Name: "t", Run: func(context.Context, time.Time) (int64, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 0, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first round should run immediately")
	}
	if !w.Status().Ready {
		t.Fatal("running worker with no failures should be ready")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if w.Status().Running {
		t.Fatal("stopped worker still reports running")
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := New(Config{UnhealthyAfter: 1, Now: fixedNow}, nil, Task{Name: "t", Run: func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("down")
	}})
	h := w.HealthHandler(nil)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}

	// not running yet
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start: got %d", rec.Code)
	}

	w.setRunning(true)
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz while running: got %d", rec.Code)
	}

	_ = w.RunOnce(context.Background())
	rec := get("/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after failure: got %d", rec.Code)
	}

	var body struct {
		Status  string `json:"status"`
		Sweeper Status `json:"sweeper"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Sweeper.LastError == "" {
		t.Fatalf("readiness body should explain the failure: %s", rec.Body.String())
	}
}
