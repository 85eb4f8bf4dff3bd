// Package authz evaluates declarative guard specifications against the
// identity carried by an access token. It never consults the permission
// store: a token's roles and permissions are a snapshot taken at issuance.
package authz

import (
	"strings"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/domain/role"
)

type Principal struct {
	UserID      string
	Email       string
	Username    string
	Roles       []string
	Permissions []string
}

func (p *Principal) HasRole(name string) bool {
	return contains(p.Roles, name)
}

func (p *Principal) HasPermission(name string) bool {
	return contains(p.Permissions, name)
}

func (p *Principal) IsElevated() bool {
	return role.IsElevated(p.Roles)
}

type Kind string

const (
	KindRole          Kind = "role"
	KindPermission    Kind = "permission"
	KindAnyPermission Kind = "any_permission"
	KindOwnership     Kind = "ownership"
)

// Requirement is one capability check. Values are role names for KindRole
// (any of), permission names for KindPermission (all of) and KindAnyPermission
// (at least one), and bypass roles for KindOwnership.
type Requirement struct {
	Kind   Kind
	Values []string
}

func Role(names ...string) Requirement {
	return Requirement{Kind: KindRole, Values: names}
}

func Permission(names ...string) Requirement {
	return Requirement{Kind: KindPermission, Values: names}
}

func AnyPermission(names ...string) Requirement {
	return Requirement{Kind: KindAnyPermission, Values: names}
}

// Ownership passes when the resource owner is the caller or the caller holds
// one of the bypass roles. With no bypass roles the elevated roles apply.
func Ownership(bypassRoles ...string) Requirement {
	if len(bypassRoles) == 0 {
		bypassRoles = role.ElevatedRoles
	}
	return Requirement{Kind: KindOwnership, Values: bypassRoles}
}

// OwnerOnly is an ownership check nobody bypasses.
func OwnerOnly() Requirement {
	return Requirement{Kind: KindOwnership}
}

type Combinator string

const (
	CombineAll Combinator = "all"
	CombineAny Combinator = "any"
)

type Spec struct {
	Requirements []Requirement
	Combinator   Combinator
}

func All(reqs ...Requirement) Spec {
	return Spec{Requirements: reqs, Combinator: CombineAll}
}

func AnyOf(reqs ...Requirement) Spec {
	return Spec{Requirements: reqs, Combinator: CombineAny}
}

func (s Spec) NeedsResource() bool {
	for _, r := range s.Requirements {
		if r.Kind == KindOwnership {
			return true
		}
	}
	return false
}

// Resource is the subject of an ownership check.
type Resource struct {
	OwnerID string
}

// Evaluate returns nil when p satisfies spec. A nil principal yields an
// unauthenticated error, any failed check a forbidden error that enumerates
// what was required and what the caller holds.
func Evaluate(p *Principal, spec Spec, res *Resource) error {
	if p == nil || p.UserID == "" {
		return apperr.Unauthenticated("Authentication required")
	}

	if len(spec.Requirements) == 0 {
		return nil
	}

	var failures []*apperr.Error
	for _, req := range spec.Requirements {
		err := check(p, req, res)
		if err == nil {
			if spec.Combinator == CombineAny {
				return nil
			}
			continue
		}
		if spec.Combinator != CombineAny {
			return err
		}
		failures = append(failures, err)
	}

	if spec.Combinator != CombineAny {
		return nil
	}
	return mergeFailures(failures)
}

func check(p *Principal, req Requirement, res *Resource) *apperr.Error {
	switch req.Kind {
	case KindRole:
		for _, r := range req.Values {
			if p.HasRole(r) {
				return nil
			}
		}
		return apperr.Forbidden("Access denied. Required role(s): "+strings.Join(req.Values, ", ")).
			WithDetail("requiredRoles", nonNil(req.Values)).
			WithDetail("userRoles", nonNil(p.Roles))

	case KindPermission:
		for _, perm := range req.Values {
			if !p.HasPermission(perm) {
				return apperr.Forbidden("Access denied. Required permission(s): "+strings.Join(req.Values, ", ")).
					WithDetail("requiredPermissions", nonNil(req.Values)).
					WithDetail("userPermissions", nonNil(p.Permissions))
			}
		}
		return nil

	case KindAnyPermission:
		for _, perm := range req.Values {
			if p.HasPermission(perm) {
				return nil
			}
		}
		return apperr.Forbidden("Access denied. Required at least one of: "+strings.Join(req.Values, ", ")).
			WithDetail("requiredPermissions", nonNil(req.Values)).
			WithDetail("userPermissions", nonNil(p.Permissions))

	case KindOwnership:
		if res != nil && res.OwnerID != "" && res.OwnerID == p.UserID {
			return nil
		}
		for _, r := range req.Values {
			if p.HasRole(r) {
				return nil
			}
		}
		return apperr.Forbidden("Access denied. You can only access your own resources.")

	default:
		return apperr.Forbidden("Access denied")
	}
}

func mergeFailures(failures []*apperr.Error) error {
	if len(failures) == 1 {
		return failures[0]
	}

	merged := apperr.Forbidden("Access denied. None of the accepted requirements are satisfied")
	for _, f := range failures {
		for k, v := range f.Details {
			list, ok := v.([]string)
			if !ok {
				continue
			}
			if prev, ok := merged.Details[k].([]string); ok && strings.HasPrefix(k, "required") {
				list = union(prev, list)
			}
			merged.WithDetail(k, list)
		}
	}
	return merged
}

func union(a, b []string) []string {
	out := append([]string{}, a...)
	for _, v := range b {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
