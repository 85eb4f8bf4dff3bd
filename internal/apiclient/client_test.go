package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

type staticTokens struct{ tok string }

func (s *staticTokens) Token() (string, bool) { return s.tok, s.tok != "" }

type rotatingTokens struct {
	mu  sync.Mutex
	tok string
}

func (r *rotatingTokens) Token() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tok, r.tok != ""
}

func (r *rotatingTokens) set(tok string) {
	r.mu.Lock()
	r.tok = tok
	r.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_RetriesOnceAfterRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"username": "alice"}})
	}))
	defer srv.Close()

	tokens := &staticTokens{tok: "stale"}
	var refreshes atomic.Int32
	c := New(srv.URL, srv.Client(), tokens, func(ctx context.Context) (string, error) {
		refreshes.Add(1)
		tokens.tok = "fresh"
		return "fresh", nil
	})

	var out struct {
		Username string `json:"username"`
	}
	if err := c.Get(context.Background(), "/auth/profile", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Username != "alice" || refreshes.Load() != 1 {
		t.Fatalf("out=%+v refreshes=%d", out, refreshes.Load())
	}
}

func TestClient_LateUnauthorizedReusesRotatedToken(t *testing.T) {
	slowArrived := make(chan struct{})
	releaseSlow := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stale := r.Header.Get("Authorization") != "Bearer fresh"
		if r.URL.Path == "/slow" && stale {
			close(slowArrived)
			<-releaseSlow
		}
		if stale {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{}})
	}))
	defer srv.Close()

	tokens := &rotatingTokens{tok: "stale"}
	var refreshes atomic.Int32
	c := New(srv.URL, srv.Client(), tokens, func(ctx context.Context) (string, error) {
		refreshes.Add(1)
		tokens.set("fresh")
		return "fresh", nil
	})

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- c.Get(context.Background(), "/slow", nil)
	}()
	<-slowArrived

	if err := c.Get(context.Background(), "/fast", nil); err != nil {
		t.Fatalf("fast get: %v", err)
	}
	close(releaseSlow)

	if err := <-slowErr; err != nil {
		t.Fatalf("slow get: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestClient_RefreshFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Token expired"})
	}))
	defer srv.Close()

	boom := errors.New("refresh revoked")
	c := New(srv.URL, srv.Client(), &staticTokens{tok: "stale"}, func(ctx context.Context) (string, error) {
		return "", boom
	})

	if err := c.Get(context.Background(), "/auth/profile", nil); !errors.Is(err, boom) {
		t.Fatalf("expected refresh error, got %v", err)
	}
}

func TestClient_NoRefreshWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Authentication required"})
	}))
	defer srv.Close()

	called := false
	c := New(srv.URL, srv.Client(), &staticTokens{}, func(ctx context.Context) (string, error) {
		called = true
		return "", nil
	})

	err := c.Get(context.Background(), "/auth/profile", nil)
	if !IsStatus(err, http.StatusUnauthorized) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestClient_ForbiddenCarriesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"error":   "Access denied",
			"details": map[string]any{"requiredPermissions": []string{"modules:approve"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), &staticTokens{tok: "t"}, nil)
	err := c.Post(context.Background(), "/modules/x/approve", nil, nil)

	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusForbidden || ae.Details["requiredPermissions"] == nil {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("refresh must not send a bearer token")
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"token": "new"}})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil, nil)
	tok, err := c.RefreshAccessToken(context.Background())
	if err != nil || tok != "new" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
}
