// Package token holds the server-side ledger row of an issued refresh token.
package token

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("refresh token not found")
	ErrRevoked  = errors.New("refresh token revoked")
	ErrExpired  = errors.New("refresh token expired")
	ErrMismatch = errors.New("refresh token does not match stored hash")
)

// Refresh is one issued refresh token. Only the HMAC of the raw token is kept.
type Refresh struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
}

// Usable reports why r cannot be exchanged, or nil.
func (r Refresh) Usable(hash string, now time.Time) error {
	if r.RevokedAt != nil {
		return ErrRevoked
	}
	if !now.Before(r.ExpiresAt) {
		return ErrExpired
	}
	if r.TokenHash != hash {
		return ErrMismatch
	}
	return nil
}
