package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminRoleID = "6f1b2c1e-8f5d-4a3b-9c2d-1e0f3a4b5c6d"

type fakeAPI struct {
	t     *testing.T
	token string

	mu       sync.Mutex
	assigned map[string]any
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	f := &fakeAPI{t: t, token: tok}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authed := r.Header.Get("Authorization") == "Bearer "+f.token

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/login":
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r-1", Path: "/api/auth", HttpOnly: true})
		reply(w, http.StatusOK, map[string]any{"token": f.token})

	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout":
		if c, err := r.Cookie("refresh_token"); err != nil || c.Value != "r-1" {
			f.t.Errorf("logout should carry the saved refresh cookie")
		}
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "", Path: "/api/auth", MaxAge: -1})
		reply(w, http.StatusOK, nil)

	case r.Method == http.MethodGet && r.URL.Path == "/api/auth/profile":
		if !authed {
			replyErr(w, http.StatusUnauthorized)
			return
		}
		reply(w, http.StatusOK, map[string]any{"user": map[string]any{"email": "alice@example.com"}})

	case r.Method == http.MethodGet && r.URL.Path == "/api/roles":
		reply(w, http.StatusOK, []map[string]any{{"id": adminRoleID, "name": "admin"}})

	case r.Method == http.MethodPost && r.URL.Path == "/api/users/roles/assign":
		if !authed {
			replyErr(w, http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.assigned = body
		f.mu.Unlock()
		reply(w, http.StatusCreated, body)

	default:
		replyErr(w, http.StatusNotFound)
	}
}

func reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func replyErr(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": http.StatusText(status)})
}

// run executes one CLI invocation, as a fresh process would.
func run(t *testing.T, srv *httptest.Server, stateDir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--api", srv.URL + "/api", "--state-dir", stateDir}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginPersistsSessionAcrossRuns(t *testing.T) {
	_, srv := newFakeAPI(t)
	dir := t.TempDir()

	if _, err := run(t, srv, dir, "whoami"); err == nil {
		t.Fatal("whoami before login should fail")
	}

	if _, err := run(t, srv, dir, "login", "--email", "alice@example.com", "--password", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	for _, name := range []string{"token.json", "refresh.json"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not saved: %v", name, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("%s should be owner-only, got %v", name, info.Mode().Perm())
		}
	}

	out, err := run(t, srv, dir, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "alice@example.com") {
		t.Fatalf("unexpected profile output: %s", out)
	}

	if _, err := run(t, srv, dir, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	for _, name := range []string{"token.json", "refresh.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed on logout, err=%v", name, err)
		}
	}
}

func TestAssignResolvesRoleByName(t *testing.T) {
	api, srv := newFakeAPI(t)
	dir := t.TempDir()

	if _, err := run(t, srv, dir, "login", "--email", "alice@example.com", "--password", "Secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	userID := "0d9c8b7a-6f5e-4d3c-2b1a-0f9e8d7c6b5a"
	if _, err := run(t, srv, dir, "roles", "assign", "--user", userID, "--role", "Admin", "--expires-in", "24h"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.assigned["roleId"] != adminRoleID || api.assigned["userId"] != userID {
		t.Fatalf("unexpected assign body: %v", api.assigned)
	}
	if _, ok := api.assigned["expiresAt"]; !ok {
		t.Fatalf("expiresAt should be sent with --expires-in")
	}

	if _, err := run(t, srv, dir, "roles", "assign", "--user", userID, "--role", "ghost"); err == nil {
		t.Fatal("unknown role name should fail")
	}
}

func TestRejectsBadAPIURL(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--api", "not a url", "--state-dir", t.TempDir(), "roles", "list"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected invalid --api to fail")
	}
}
