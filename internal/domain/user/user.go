package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrEmailTaken    = errors.New("email is already in use")
	ErrUsernameTaken = errors.New("username is already in use")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Profile struct {
	Bio                   *string `json:"bio,omitempty"`
	AvatarURL             *string `json:"avatarUrl,omitempty"`
	IsVerifiedContributor bool    `json:"isVerifiedContributor"`
}

// WithAccess is a user together with the role names and effective permissions
// of its currently active grants.
type WithAccess struct {
	User
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Username string `json:"username" binding:"required,username"`
	Password string `json:"password" binding:"required,password"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}
