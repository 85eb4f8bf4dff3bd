// Package ratelimit implements fixed-window request limits keyed by caller.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Memory keeps one window per key in process memory. Windows of idle keys are
// dropped lazily when the key is seen again after expiry.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.clients[key]
	if !ok || !now.Before(b.windowEnd) {
		m.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(m.window)}
		return Decision{Allowed: true, Limit: m.limit, Remaining: m.limit - 1}, nil
	}

	if b.count >= m.limit {
		return Decision{
			Allowed:    false,
			Limit:      m.limit,
			RetryAfter: b.windowEnd.Sub(now),
		}, nil
	}

	b.count++
	return Decision{Allowed: true, Limit: m.limit, Remaining: m.limit - b.count}, nil
}

// incrWindow bumps the counter and starts the window on the first hit, in one
// round trip so a crash between INCR and PEXPIRE cannot leave an immortal key.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Redis shares windows across API replicas.
type Redis struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(rdb *redis.Client, scope string, limit int, window time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "learnhub:ratelimit:" + scope + ":",
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := incrWindow.Run(ctx, r.rdb, []string{r.prefix + key}, strconv.FormatInt(r.window.Milliseconds(), 10)).Int64Slice()
	if err != nil {
		return Decision{}, err
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	if ttl < 0 {
		ttl = r.window
	}

	if count > r.limit {
		return Decision{Allowed: false, Limit: r.limit, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit - count}, nil
}
