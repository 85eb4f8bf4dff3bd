package middlewares

import (
	"strings"

	"github.com/geocoder89/learnhub/internal/actorctx"
	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/auth"
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.AccessClaims, error)
}

type AuthFailureRecorder interface {
	ObserveAuthFailure(reason string)
}

type AuthMiddleware struct {
	jwt     TokenVerifier
	metrics AuthFailureRecorder
}

func NewAuthMiddleware(jwt TokenVerifier, metrics AuthFailureRecorder) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, metrics: metrics}
}

// RequireAuth rejects requests without a valid access token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			m.fail(c, "missing", apperr.Unauthenticated("Access token required"))
			return
		}

		claims, err := m.jwt.VerifyAccess(raw)
		if err != nil {
			if auth.IsExpired(err) {
				e := apperr.Unauthenticated("Token expired")
				e.Code = "token_expired"
				m.fail(c, "expired", e)
				return
			}
			e := apperr.Unauthenticated("Invalid token")
			e.Code = "invalid_token"
			m.fail(c, "invalid", e)
			return
		}

		setPrincipal(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and lets
// anonymous or badly authenticated requests through as anonymous.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := bearerToken(c); ok {
			if claims, err := m.jwt.VerifyAccess(raw); err == nil {
				setPrincipal(c, claims)
			}
		}
		c.Next()
	}
}

func (m *AuthMiddleware) fail(c *gin.Context, reason string, err *apperr.Error) {
	if m.metrics != nil {
		m.metrics.ObserveAuthFailure(reason)
	}
	AbortWithError(c, err)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return raw, raw != ""
}

func setPrincipal(c *gin.Context, claims *auth.AccessClaims) {
	id := claims.Identity()
	c.Set(CtxPrincipal, &authz.Principal{
		UserID:      id.UserID,
		Email:       id.Email,
		Username:    id.Username,
		Roles:       id.Roles,
		Permissions: id.Permissions,
	})
	c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), id.UserID))
}

// Helpers so handlers don't need to know the magic keys.

// PrincipalFromContext returns nil for anonymous requests.
func PrincipalFromContext(c *gin.Context) *authz.Principal {
	v, ok := c.Get(CtxPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*authz.Principal)
	return p
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	p := PrincipalFromContext(c)
	if p == nil || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}
