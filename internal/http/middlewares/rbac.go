package middlewares

import (
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/gin-gonic/gin"
)

// OwnerLookup resolves the owner of the resource a request targets. Errors
// are rendered as-is, so lookups should return apperr values (e.g. NotFound).
type OwnerLookup func(c *gin.Context) (ownerID string, err error)

// Guard evaluates spec against the caller. Specs with an ownership
// requirement need RequireOwnership instead.
func Guard(spec authz.Spec) gin.HandlerFunc {
	return guard(spec, nil)
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return Guard(authz.All(authz.Role(roles...)))
}

func RequirePermission(perms ...string) gin.HandlerFunc {
	return Guard(authz.All(authz.Permission(perms...)))
}

func RequireAnyPermission(perms ...string) gin.HandlerFunc {
	return Guard(authz.All(authz.AnyPermission(perms...)))
}

// RequireOwnership lets the owner through, or a caller holding one of the
// bypass roles (the elevated roles when none are given).
func RequireOwnership(lookup OwnerLookup, bypassRoles ...string) gin.HandlerFunc {
	return GuardResource(authz.All(authz.Ownership(bypassRoles...)), lookup)
}

// GuardResource evaluates a spec that mixes ownership with other requirements.
func GuardResource(spec authz.Spec, lookup OwnerLookup) gin.HandlerFunc {
	return guard(spec, lookup)
}

func guard(spec authz.Spec, lookup OwnerLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFromContext(c)

		var res *authz.Resource
		if lookup != nil && p != nil {
			owner, err := lookup(c)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			res = &authz.Resource{OwnerID: owner}
		}

		if err := authz.Evaluate(p, spec, res); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
