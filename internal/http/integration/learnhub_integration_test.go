package integration__test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/learnhub/internal/auth"
	"github.com/geocoder89/learnhub/internal/config"
	"github.com/geocoder89/learnhub/internal/db"
	"github.com/geocoder89/learnhub/internal/domain/content"
	apphttp "github.com/geocoder89/learnhub/internal/http"
	"github.com/geocoder89/learnhub/internal/moderation"
	"github.com/geocoder89/learnhub/internal/observability"
	"github.com/geocoder89/learnhub/internal/repo/postgres"
	"github.com/geocoder89/learnhub/internal/storage/blob"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Admin1234"
)

func testConfig() config.Config {
	return config.Config{
		Env:                 "test",
		JWTAccessSecret:     "test-access-secret",
		JWTRefreshSecret:    "test-refresh-secret",
		JWTAccessTTLMinutes: 15,
		JWTRefreshTTLDays:   7,
		PresignTTL:          time.Hour,
		MaxFileSize:         1 << 20,
		AllowedFileTypes:    []string{"text/html"},
		UploadRateLimit:     100,
		UploadRateWindow:    time.Minute,
		AdminEmail:          adminEmail,
		AdminPassword:       adminPassword,
		AdminUsername:       "admin",
	}
}

type stack struct {
	router       http.Handler
	pool         *pgxpool.Pool
	roles        *postgres.RolesRepo
	subchapterID string
}

// setup needs a disposable database; it truncates every table.
func setup(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()
	cfg := testConfig()

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		TRUNCATE module_ratings, upload_logs, modules, subchapters, chapters, subjects,
		         refresh_tokens, role_change_logs, user_roles, user_profiles, users
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	if err := db.SeedCatalog(ctx, pool); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.EnsureAdminUser(ctx, pool, cfg); err != nil {
		t.Fatalf("admin: %v", err)
	}

	subjectID, chapterID, subchapterID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO subjects (id, name) VALUES ($1, 'Mathematics')`, subjectID); err != nil {
		t.Fatalf("subject: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO chapters (id, subject_id, name) VALUES ($1, $2, 'Algebra')`, chapterID, subjectID); err != nil {
		t.Fatalf("chapter: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO subchapters (id, chapter_id, name) VALUES ($1, $2, 'Linear equations')`, subchapterID, chapterID); err != nil {
		t.Fatalf("subchapter: %v", err)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	roles := postgres.NewRolesRepo(pool, prom)

	svc := moderation.NewService(
		postgres.NewModulesRepo(pool, prom),
		blob.NewMemoryStore("https://blobs.test"),
		content.NewGate(cfg.AllowedFileTypes, cfg.MaxFileSize),
		moderation.Options{PresignTTL: cfg.PresignTTL, Recorder: prom},
	)

	router, err := apphttp.NewRouter(apphttp.Deps{
		Config:    cfg,
		Prom:      prom,
		Gatherer:  reg,
		JWT:       auth.NewManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL()),
		Users:     postgres.NewUsersRepo(pool, prom),
		Roles:     roles,
		Refresh:   postgres.NewRefreshTokensRepo(pool, prom),
		Modules:   svc,
		Hierarchy: postgres.NewHierarchyRepo(pool, prom),
		Ratings:   postgres.NewRatingsRepo(pool, prom),
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	return &stack{router: router, pool: pool, roles: roles, subchapterID: subchapterID}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID          string   `json:"id"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	} `json:"user"`
}

func doRequest(router http.Handler, method, path, token, contentType string, body []byte, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *http.Response) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, w.Result()
}

func doJSON(router http.Handler, method, path, token, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *http.Response) {
	return doRequest(router, method, path, token, "application/json", []byte(body), cookies...)
}

func mustReadData[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("failed to unmarshal data: %v, body=%s", err, w.Body.String())
	}
}

func refreshCookie(t *testing.T, response *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range response.Cookies() {
		if c.Name == "refresh_token" && c.Value != "" {
			return c
		}
	}
	t.Fatalf("refresh_token cookie not found in response")
	return nil
}

func login(t *testing.T, s *stack, email, password string) (session, *http.Cookie) {
	t.Helper()

	w, resp := doJSON(s.router, http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"`+password+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: got %d body=%s", email, w.Code, w.Body.String())
	}

	var out session
	mustReadData(t, w, &out)
	return out, refreshCookie(t, resp)
}

func TestAuthIntegration_Signup_Refresh_Reuse_Logout(t *testing.T) {
	s := setup(t)

	w, resp := doJSON(s.router, http.MethodPost, "/api/auth/signup", "", `{"email":"Sam@Example.com","username":"sam_doe","password":"Password123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var signedUp session
	mustReadData(t, w, &signedUp)
	if len(signedUp.User.Roles) != 1 || signedUp.User.Roles[0] != "viewer" {
		t.Fatalf("new accounts get the viewer role, got %v", signedUp.User.Roles)
	}
	first := refreshCookie(t, resp)

	w, _ = doJSON(s.router, http.MethodPost, "/api/auth/signup", "", `{"email":"sam@example.com","username":"sam_two","password":"Password123"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate email got %d, want 409", w.Code)
	}

	// rotation
	w, resp = doJSON(s.router, http.MethodPost, "/api/auth/refresh", "", "", first)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	rotated := refreshCookie(t, resp)

	// replaying the rotated-away cookie revokes the whole family
	w, _ = doJSON(s.router, http.MethodPost, "/api/auth/refresh", "", "", first)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh(old cookie) got status %d, want 401", w.Code)
	}
	w, _ = doJSON(s.router, http.MethodPost, "/api/auth/refresh", "", "", rotated)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh(new cookie) after reuse got status %d, want 401", w.Code)
	}

	// a fresh login works and logout revokes it
	_, cookie := login(t, s, "sam@example.com", "Password123")

	w, resp = doJSON(s.router, http.MethodPost, "/api/auth/logout", "", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout got status %d, body=%s", w.Code, w.Body.String())
	}
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" && (c.MaxAge < 0 || c.Value == "") {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected logout to clear refresh_token cookie")
	}

	w, _ = doJSON(s.router, http.MethodPost, "/api/auth/refresh", "", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout got status %d, want 401", w.Code)
	}
}

func TestModerationIntegration_UploadApproveRate(t *testing.T) {
	s := setup(t)
	admin, _ := login(t, s, adminEmail, adminPassword)

	// contributor account
	w, _ := doJSON(s.router, http.MethodPost, "/api/auth/signup", "", `{"email":"carol@example.com","username":"carol","password":"Password123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", w.Code, w.Body.String())
	}
	var carol session
	mustReadData(t, w, &carol)

	var catalog []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	w, _ = doJSON(s.router, http.MethodGet, "/api/roles", admin.Token, "")
	mustReadData(t, w, &catalog)
	var contributorID string
	for _, r := range catalog {
		if r.Name == "contributor" {
			contributorID = r.ID
		}
	}

	w, _ = doJSON(s.router, http.MethodPost, "/api/users/roles/assign", admin.Token,
		`{"userId":"`+carol.User.ID+`","roleId":"`+contributorID+`","reason":"course author"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}

	// the grant shows up in a new token, not the old one
	carol, _ = login(t, s, "carol@example.com", "Password123")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "Intro")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="intro.html"`)
	h.Set("Content-Type", "text/html")
	part, _ := mw.CreatePart(h)
	_, _ = part.Write([]byte("<!DOCTYPE html><html><body><h1>Intro</h1></body></html>"))
	_ = mw.Close()

	w, _ = doRequest(s.router, http.MethodPost, "/api/modules/subchapter/"+s.subchapterID+"/upload", carol.Token, mw.FormDataContentType(), buf.Bytes())
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var m struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	mustReadData(t, w, &m)
	if m.Status != "pending" {
		t.Fatalf("new modules are pending, got %q", m.Status)
	}

	// anonymous readers do not see pending modules
	w, _ = doJSON(s.router, http.MethodGet, "/api/modules/"+m.ID, "", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("anonymous read of pending: got %d", w.Code)
	}

	w, _ = doJSON(s.router, http.MethodPost, "/api/modules/"+m.ID+"/approve", admin.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(s.router, http.MethodPost, "/api/ratings/module/"+m.ID, carol.Token, `{"rating":5,"review":"clear"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("rate: %d %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(s.router, http.MethodPost, "/api/ratings/module/"+m.ID, carol.Token, `{"rating":4}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second rating: got %d, want 409", w.Code)
	}

	// hidden is terminal
	w, _ = doJSON(s.router, http.MethodPost, "/api/modules/"+m.ID+"/hide", admin.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("hide: %d %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(s.router, http.MethodPost, "/api/modules/"+m.ID+"/approve", admin.Token, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("approve after hide: got %d, want 409", w.Code)
	}

	var logs []struct {
		Action string `json:"action"`
	}
	w, _ = doJSON(s.router, http.MethodGet, "/api/modules/"+m.ID+"/logs", admin.Token, "")
	mustReadData(t, w, &logs)
	if len(logs) != 3 || logs[0].Action != "hide" || logs[1].Action != "approve" || logs[2].Action != "upload" {
		t.Fatalf("unexpected audit trail: %+v", logs)
	}
}

func TestRolesIntegration_SweepExpiredGrants(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	w, _ := doJSON(s.router, http.MethodPost, "/api/auth/signup", "", `{"email":"dave@example.com","username":"dave","password":"Password123"}`)
	var dave session
	mustReadData(t, w, &dave)

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (id, user_id, role_id, assigned_at, expires_at)
		SELECT $1, $2, id, NOW() - INTERVAL '2 days', NOW() - INTERVAL '1 day' FROM roles WHERE name = 'moderator'
	`, uuid.NewString(), dave.User.ID); err != nil {
		t.Fatalf("insert expired grant: %v", err)
	}

	// an expired grant confers nothing even before the sweep
	after, _ := login(t, s, "dave@example.com", "Password123")
	for _, r := range after.User.Roles {
		if r == "moderator" {
			t.Fatalf("expired grant leaked into token roles: %v", after.User.Roles)
		}
	}

	n, err := s.roles.SweepExpired(ctx, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	var action string
	if err := s.pool.QueryRow(ctx, `SELECT action FROM role_change_logs WHERE user_id = $1 AND action = 'expired'`, dave.User.ID).Scan(&action); err != nil {
		t.Fatalf("change log: %v", err)
	}
	if action != "expired" {
		t.Fatalf("got change log action %q, want expired", action)
	}
}
