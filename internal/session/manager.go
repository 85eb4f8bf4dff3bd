// Package session is the client side of authentication: it owns the access
// token, decides where it is stored, mirrors it for edge routing and keeps
// exactly one refresh in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// RefreshLead is how long before expiry the proactive refresh fires.
const RefreshLead = 5 * time.Minute

var (
	ErrNoSession       = errors.New("session: not authenticated")
	ErrSessionExpired  = errors.New("session: refresh failed, login required")
	ErrBootstrapFailed = errors.New("session: bootstrap failed")
)

// Refresher performs the network refresh. It is the only thing the manager
// knows about the transport.
type Refresher func(ctx context.Context) (string, error)

type State string

const (
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

type Event struct {
	State     State
	Token     string
	ExpiresAt time.Time
	Err       error
}

type timerHandle interface {
	Stop() bool
}

type Options struct {
	Durable TokenStore
	Session TokenStore
	Mirror  EdgeMirror
	Logger  *slog.Logger
	Now     func() time.Time
}

type Manager struct {
	mu      sync.Mutex
	durable TokenStore
	session TokenStore
	mirror  EdgeMirror
	refresh Refresher
	log     *slog.Logger

	mode   PersistMode
	token  Token
	failed bool
	timer  timerHandle
	// gen changes on every Login and Logout. A refresh that started under an
	// older generation must not touch the session.
	gen uint64

	flight singleflight.Group

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timerHandle
}

func NewManager(refresh Refresher, opts Options) *Manager {
	m := &Manager{
		durable: opts.Durable,
		session: opts.Session,
		mirror:  opts.Mirror,
		refresh: refresh,
		log:     opts.Logger,
		mode:    PersistSession,
		subs:    make(map[int]func(Event)),
		now:     opts.Now,
		afterFunc: func(d time.Duration, f func()) timerHandle {
			return time.AfterFunc(d, f)
		},
	}
	if m.durable == nil {
		m.durable = NewMemoryStore()
	}
	if m.session == nil {
		m.session = NewMemoryStore()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// RefreshDelay is when a token expiring at exp should be refreshed, measured
// from now. Tokens inside the lead window refresh immediately.
func RefreshDelay(exp, now time.Time) time.Duration {
	d := exp.Sub(now) - RefreshLead
	if d < 0 {
		return 0
	}
	return d
}

// ExpiryOf reads exp from a JWT without verifying it. The server verifies;
// the client only needs to know when to refresh.
func ExpiryOf(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("session: parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("session: token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// Login installs a token obtained from a credential exchange. mode picks the
// storage tier for this and every rotated token until logout.
func (m *Manager) Login(token string, mode PersistMode) error {
	if mode != PersistLocal {
		mode = PersistSession
	}

	m.mu.Lock()
	m.gen++
	m.mode = mode
	ev, err := m.installLocked(token)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.publish(ev)
	return nil
}

func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token.Value, m.token.Value != ""
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.Value == "" {
		return StateUnauthenticated
	}
	return StateAuthenticated
}

func (m *Manager) Mode() PersistMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Refresh renews the access token. Concurrent callers share one network call
// and all get its result. A failed refresh clears the session; later calls
// fail fast until the next Login.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	failed := m.failed
	m.mu.Unlock()
	if failed {
		return "", ErrSessionExpired
	}

	// The shared call must not die with whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(shared)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	token, err := m.refresh(ctx)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.log.InfoContext(ctx, "session_refresh_discarded", "reason", "session changed during refresh")
		return "", ErrNoSession
	}

	if err == nil {
		ev, ierr := m.installLocked(token)
		if ierr == nil {
			m.mu.Unlock()
			m.publish(ev)
			return token, nil
		}
		err = ierr
	}

	m.clearLocked()
	m.failed = true
	m.mu.Unlock()

	m.log.WarnContext(ctx, "session_refresh_failed", "err", err)
	m.publish(Event{State: StateUnauthenticated, Err: err})
	return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
}

// Logout drops the token everywhere and cancels the pending refresh.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.gen++
	m.clearLocked()
	m.failed = false
	m.mu.Unlock()

	m.publish(Event{State: StateUnauthenticated})
}

// Subscribe registers fn for every session change and returns a function
// that removes it.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// Bootstrap restores a stored session: durable tier first, then the session
// tier, then the edge cookie. Any failure, panics included, leaves the
// manager cleanly unauthenticated.
func (m *Manager) Bootstrap(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(ctx, "session_bootstrap_panic", "panic", fmt.Sprint(r))
			err = fmt.Errorf("%w: %v", ErrBootstrapFailed, r)
		}
		if err != nil {
			m.mu.Lock()
			m.clearLocked()
			m.mu.Unlock()
			m.publish(Event{State: StateUnauthenticated, Err: err})
		}
	}()

	token, mode, err := m.loadStored()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}
	if token == "" {
		return nil
	}

	m.mu.Lock()
	m.mode = mode
	ev, err := m.installLocked(token)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}

	m.publish(ev)
	return nil
}

func (m *Manager) loadStored() (string, PersistMode, error) {
	if t, ok, err := m.durable.Load(); err != nil {
		return "", "", err
	} else if ok {
		return t.Value, PersistLocal, nil
	}

	if t, ok, err := m.session.Load(); err != nil {
		return "", "", err
	} else if ok {
		return t.Value, PersistSession, nil
	}

	if m.mirror != nil {
		if v, ok := m.mirror.Get(); ok {
			return v, PersistSession, nil
		}
	}
	return "", "", nil
}

// installLocked replaces the token in the active tier, clears the other
// tier, refreshes the mirror and re-arms the timer. Callers hold m.mu.
func (m *Manager) installLocked(token string) (Event, error) {
	exp, err := ExpiryOf(token)
	if err != nil {
		return Event{}, err
	}
	t := Token{Value: token, ExpiresAt: exp}

	active, inactive := m.session, m.durable
	if m.mode == PersistLocal {
		active, inactive = m.durable, m.session
	}
	if err := active.Save(t); err != nil {
		return Event{}, fmt.Errorf("session: save token: %w", err)
	}
	if err := inactive.Clear(); err != nil {
		m.log.Warn("session_clear_tier_failed", "err", err)
	}

	if m.mirror != nil {
		m.mirror.Set(token, exp.Sub(m.now()), m.mode == PersistLocal)
	}

	m.token = t
	m.failed = false
	m.armLocked(exp)

	return Event{State: StateAuthenticated, Token: token, ExpiresAt: exp}, nil
}

func (m *Manager) armLocked(exp time.Time) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.afterFunc(RefreshDelay(exp, m.now()), func() {
		if _, err := m.Refresh(context.Background()); err != nil {
			m.log.Warn("session_scheduled_refresh_failed", "err", err)
		}
	})
}

func (m *Manager) clearLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if err := m.durable.Clear(); err != nil {
		m.log.Warn("session_clear_tier_failed", "tier", "durable", "err", err)
	}
	if err := m.session.Clear(); err != nil {
		m.log.Warn("session_clear_tier_failed", "tier", "session", "err", err)
	}
	if m.mirror != nil {
		m.mirror.Clear()
	}
	m.token = Token{}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
