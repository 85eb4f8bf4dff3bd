package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/auth"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/domain/token"
	"github.com/geocoder89/learnhub/internal/domain/user"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/geocoder89/learnhub/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

type UserStore interface {
	Create(ctx context.Context, email, username, passwordHash string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	Profile(ctx context.Context, userID string) (user.Profile, error)
}

type GrantReader interface {
	GrantsForUser(ctx context.Context, userID string) ([]role.Grant, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, row token.Refresh) error
	Rotate(ctx context.Context, id string, check func(token.Refresh) error, next token.Refresh) (token.Refresh, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type RefreshRecorder interface {
	ObserveRefresh(result string)
}

type AuthOptions struct {
	SecureCookies bool
	Metrics       RefreshRecorder
	Now           func() time.Time
}

type AuthHandler struct {
	users        UserStore
	grants       GrantReader
	jwt          *auth.Manager
	refreshStore RefreshTokenStore
	metrics      RefreshRecorder
	secure       bool
	now          func() time.Time
}

func NewAuthHandler(users UserStore, grants GrantReader, jwtManager *auth.Manager, refreshStore RefreshTokenStore, opts AuthOptions) *AuthHandler {
	h := &AuthHandler{
		users:        users,
		grants:       grants,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		metrics:      opts.Metrics,
		secure:       opts.SecureCookies,
		now:          opts.Now,
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	return h
}

type sessionResponse struct {
	User      user.WithAccess `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type profileResponse struct {
	User    user.WithAccess `json:"user"`
	Profile user.Profile    `json:"profile"`
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req user.SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.users.Create(cctx, strings.ToLower(req.Email), req.Username, hash)

	if err != nil {
		RespondErr(ctx, err)
		return
	}

	resp, err := h.startSession(cctx, ctx, u)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondCreated(ctx, resp, "User registered successfully")
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, strings.ToLower(req.Email))
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		RespondErr(ctx, err)
		return
	}

	if err != nil {
		// burn the same bcrypt time as a real comparison
		_ = security.CheckPassword(dummyHash(), req.Password)
		RespondUnauthorized(ctx, "invalid_credentials", "Invalid email or password")
		return
	}

	if err := security.CheckPassword(foundUser.PasswordHash, req.Password); err != nil {
		RespondUnauthorized(ctx, "invalid_credentials", "Invalid email or password")
		return
	}

	resp, err := h.startSession(cctx, ctx, foundUser)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, resp, "Login successful")
}

// Refresh exchanges the refresh cookie for a new access token and rotates
// the refresh token. Grants are re-read so role changes apply here.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(refreshCookieName)

	if err != nil || raw == "" {
		h.observe("missing")
		RespondUnauthorized(ctx, "no_refresh", "Refresh token required")
		return
	}

	claims, err := h.jwt.VerifyRefresh(raw)

	if err != nil {
		if auth.IsExpired(err) {
			h.observe("expired")
			h.clearRefreshCookie(ctx)
			RespondUnauthorized(ctx, "expired_refresh", "Refresh token expired")
			return
		}
		h.observe("invalid")
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	// Everything that can fail runs before Rotate commits, so a failed
	// attempt leaves the presented cookie valid for a retry.
	u, err := h.users.GetByID(cctx, claims.UserID())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.observe("invalid")
			RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}
		h.observe("error")
		RespondErr(ctx, apperr.Internal("Could not refresh session", err))
		return
	}

	identity, _, err := h.identity(cctx, u)
	if err != nil {
		h.observe("error")
		RespondErr(ctx, err)
		return
	}

	accessToken, expiresAt, err := h.jwt.IssueAccess(identity)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not generate access token", err))
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.IssueRefresh(claims.UserID())
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	now := h.now()
	presentedHash := h.jwt.HashRefreshToken(raw)
	next := token.Refresh{
		ID:        newJTI,
		UserID:    claims.UserID(),
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: now,
	}

	old, err := h.refreshStore.Rotate(cctx, claims.ID, func(row token.Refresh) error {
		if row.UserID != claims.UserID() {
			return token.ErrMismatch
		}
		return row.Usable(presentedHash, now)
	}, next)

	if err != nil {
		h.refreshFailed(cctx, ctx, old, err)
		return
	}

	h.observe("success")
	h.setRefreshCookie(ctx, newRaw, newExpiresAt)
	RespondOK(ctx, refreshResponse{Token: accessToken, ExpiresAt: expiresAt}, "")
}

func (h *AuthHandler) refreshFailed(cctx context.Context, ctx *gin.Context, old token.Refresh, err error) {
	switch {
	case errors.Is(err, token.ErrRevoked) && old.ReplacedBy != nil:
		// A rotated token came back: assume it leaked and end every session.
		h.observe("reused")
		slog.Default().WarnContext(cctx, "refresh_token_reuse", "user_id", old.UserID, "jti", old.ID)
		if rerr := h.refreshStore.RevokeAllForUser(cctx, old.UserID); rerr != nil {
			slog.Default().ErrorContext(cctx, "refresh_revoke_all_failed", "user_id", old.UserID, "err", rerr)
		}
		h.clearRefreshCookie(ctx)
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
	case errors.Is(err, token.ErrExpired):
		h.observe("expired")
		h.clearRefreshCookie(ctx)
		RespondUnauthorized(ctx, "expired_refresh", "Refresh token expired")
	case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrRevoked), errors.Is(err, token.ErrMismatch):
		h.observe("invalid")
		RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
	default:
		h.observe("error")
		RespondErr(ctx, apperr.Internal("Could not refresh session", err))
	}
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(refreshCookieName)

	if err == nil && raw != "" {
		if claims, verr := h.jwt.VerifyRefresh(raw); verr == nil {
			cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
			defer cancel()

			// revoke that one token (idempotent)
			if rerr := h.refreshStore.Revoke(cctx, claims.ID); rerr != nil {
				slog.Default().WarnContext(cctx, "refresh_revoke_failed", "jti", claims.ID, "err", rerr)
			}
		}
	}

	h.clearRefreshCookie(ctx)
	RespondOK(ctx, nil, "Logged out successfully")
}

func (h *AuthHandler) Profile(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondErr(ctx, apperr.Unauthenticated("Authentication required"))
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, userID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	_, withAccess, err := h.identity(cctx, u)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	profile, err := h.users.Profile(cctx, userID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, profileResponse{User: withAccess, Profile: profile}, "")
}

// Helper functions

// identity resolves the user's active grants into token claims.
func (h *AuthHandler) identity(ctx context.Context, u user.User) (auth.Identity, user.WithAccess, error) {
	grants, err := h.grants.GrantsForUser(ctx, u.ID)
	if err != nil {
		return auth.Identity{}, user.WithAccess{}, err
	}

	roles, perms := role.Effective(grants, h.now())

	return auth.Identity{
			UserID:      u.ID,
			Email:       u.Email,
			Username:    u.Username,
			Roles:       roles,
			Permissions: perms,
		}, user.WithAccess{
			User:        u,
			Roles:       roles,
			Permissions: perms,
		}, nil
}

func (h *AuthHandler) startSession(cctx context.Context, ctx *gin.Context, u user.User) (sessionResponse, error) {
	identity, withAccess, err := h.identity(cctx, u)
	if err != nil {
		return sessionResponse{}, err
	}

	accessToken, expiresAt, err := h.jwt.IssueAccess(identity)
	if err != nil {
		return sessionResponse{}, apperr.Internal("Could not generate access token", err)
	}

	rawRefreshToken, jti, refreshExpiresAt, err := h.jwt.IssueRefresh(u.ID)
	if err != nil {
		return sessionResponse{}, apperr.Internal("Could not generate refresh token", err)
	}

	err = h.refreshStore.Create(cctx, token.Refresh{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: h.jwt.HashRefreshToken(rawRefreshToken),
		ExpiresAt: refreshExpiresAt,
		CreatedAt: h.now(),
	})
	if err != nil {
		return sessionResponse{}, apperr.Internal("Could not create session", err)
	}

	h.setRefreshCookie(ctx, rawRefreshToken, refreshExpiresAt)

	return sessionResponse{User: withAccess, Token: accessToken, ExpiresAt: expiresAt}, nil
}

func (h *AuthHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveRefresh(result)
	}
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		refreshCookieName,
		raw,
		maxAge,
		refreshCookiePath,
		"",
		h.secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		refreshCookieName,
		"",
		-1,
		refreshCookiePath,
		"",
		h.secure,
		true,
	)
}

var (
	dummyOnce sync.Once
	dummy     string
)

func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = security.HashPassword("not-a-real-password-0")
	})
	return dummy
}
