package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemory_FixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory(3, 15*time.Minute)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := m.Allow(ctx, "user:1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass, got %+v err=%v", i+1, d, err)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}

	now = now.Add(5 * time.Minute)
	d, _ := m.Allow(ctx, "user:1")
	if d.Allowed {
		t.Fatalf("4th request inside the window should be limited")
	}
	if d.RetryAfter != 10*time.Minute {
		t.Fatalf("retry after = %s, want 10m", d.RetryAfter)
	}

	if d, _ := m.Allow(ctx, "user:2"); !d.Allowed {
		t.Fatalf("other keys have their own window")
	}

	now = now.Add(10 * time.Minute)
	if d, _ := m.Allow(ctx, "user:1"); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("new window should reset the count, got %+v", d)
	}
}
