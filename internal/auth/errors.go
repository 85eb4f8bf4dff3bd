package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type ErrorKind string

const (
	KindExpired   ErrorKind = "expired"
	KindInvalid   ErrorKind = "invalid"
	KindMalformed ErrorKind = "malformed"
)

// AuthError is returned by every verification failure.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func newAuthError(kind ErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

func (e *AuthError) Error() string {
	return "auth: token " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func IsExpired(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == KindExpired
}

func classify(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newAuthError(KindExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newAuthError(KindMalformed, err)
	default:
		return newAuthError(KindInvalid, err)
	}
}
