package role

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrRoleNotFound      = errors.New("role not found")
	ErrGrantNotFound     = errors.New("role grant not found")
	ErrDuplicateGrant    = errors.New("user already has this role")
	ErrUnknownPermission = errors.New("unknown permission")
)

type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Role is a named bundle of permissions. Level only orders roles for display.
type Role struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Level           int          `json:"level"`
	Permissions     []Permission `json:"permissions,omitempty"`
	UserCount       int          `json:"userCount"`
	PermissionCount int          `json:"permissionCount"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Grant is one user_roles row joined with the permissions of its role.
type Grant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	RoleID      string     `json:"roleId"`
	RoleName    string     `json:"roleName,omitempty"`
	AssignedBy  *string    `json:"assignedBy,omitempty"`
	AssignedAt  time.Time  `json:"assignedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Permissions []string   `json:"-"`
}

func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Effective returns the role names and the union of permissions of the grants
// that are still active at now. Both slices are sorted and deduplicated.
func Effective(grants []Grant, now time.Time) (roles []string, permissions []string) {
	roleSet := make(map[string]struct{})
	permSet := make(map[string]struct{})

	for _, g := range grants {
		if !g.Active(now) {
			continue
		}
		roleSet[g.RoleName] = struct{}{}
		for _, p := range g.Permissions {
			permSet[p] = struct{}{}
		}
	}

	return sortedKeys(roleSet), sortedKeys(permSet)
}

type ChangeAction string

const (
	ChangeAssigned ChangeAction = "assigned"
	ChangeRevoked  ChangeAction = "revoked"
	ChangeExpired  ChangeAction = "expired"
)

type ChangeLog struct {
	ID                string       `json:"id"`
	UserID            string       `json:"userId"`
	Username          string       `json:"username,omitempty"`
	RoleID            string       `json:"roleId"`
	RoleName          string       `json:"roleName,omitempty"`
	Action            ChangeAction `json:"action"`
	ChangedBy         *string      `json:"changedBy,omitempty"`
	ChangedByUsername string       `json:"changedByUsername,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// ChangeLogFilter pages the change log newest first. Before* is the keyset
// cursor of the last row of the previous page.
type ChangeLogFilter struct {
	UserID   string
	Limit    int
	BeforeAt *time.Time
	BeforeID string
}

type AssignRequest struct {
	UserID    string     `json:"userId" binding:"required,uuid"`
	RoleID    string     `json:"roleId" binding:"required,uuid"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Reason    string     `json:"reason" binding:"max=500"`
}

type RevokeRequest struct {
	UserID string `json:"userId" binding:"required,uuid"`
	RoleID string `json:"roleId" binding:"required,uuid"`
	Reason string `json:"reason" binding:"max=500"`
}

// ValidatePermissions rejects identifiers that are not part of the catalog so
// tokens only ever carry a closed set of permissions.
func ValidatePermissions(perms []string) error {
	for _, p := range perms {
		if !IsKnownPermission(p) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}
	return nil
}

// SplitPermission splits "resource:action".
func SplitPermission(name string) (resource, action string) {
	resource, action, _ = strings.Cut(name, ":")
	return resource, action
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
