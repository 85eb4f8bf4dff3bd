package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Identity is what an access token asserts about its bearer.
type Identity struct {
	UserID      string
	Email       string
	Username    string
	Roles       []string
	Permissions []string
}

type AccessClaims struct {
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"typ"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) UserID() string {
	return c.Subject
}

func (c *AccessClaims) Identity() Identity {
	return Identity{
		UserID:      c.Subject,
		Email:       c.Email,
		Username:    c.Username,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// RefreshClaims deliberately carries no authorization data. The type marker
// keeps it from being accepted where an access token is expected.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (c *RefreshClaims) UserID() string {
	return c.Subject
}

type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	newID         func() string
}

type Option func(*Manager)

// WithClock fixes the issuance and validation clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the jti generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssueAccess signs an access token for id. Permissions outside the catalog are rejected.
func (m *Manager) IssueAccess(id Identity) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, errors.New("auth: identity has no user id")
	}
	if err := role.ValidatePermissions(id.Permissions); err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	expiresAt := now.Add(m.accessTTL)

	claims := AccessClaims{
		Email:       id.Email,
		Username:    id.Username,
		Roles:       nonNil(id.Roles),
		Permissions: nonNil(id.Permissions),
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        m.newID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *Manager) IssueRefresh(userID string) (raw string, jti string, expiresAt time.Time, err error) {
	now := m.now()
	jti = m.newID()
	expiresAt = now.Add(m.refreshTTL)

	claims := RefreshClaims{
		Type: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)

	return
}

func (m *Manager) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, newAuthError(KindInvalid, errors.New("not an access token"))
	}
	if claims.Subject == "" {
		return nil, newAuthError(KindInvalid, errors.New("missing subject"))
	}
	return claims, nil
}

func (m *Manager) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, newAuthError(KindInvalid, errors.New("not a refresh token"))
	}
	if claims.ID == "" {
		return nil, newAuthError(KindInvalid, errors.New("missing jti"))
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// HashRefreshToken is a deterministic HMAC of the raw refresh token. Only the
// hash is stored server side.
func (m *Manager) HashRefreshToken(raw string) string {
	h := hmac.New(sha256.New, m.refreshSecret)
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
