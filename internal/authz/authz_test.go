package authz

import (
	"math/rand"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/domain/role"
)

func mustForbidden(t *testing.T, err error) *apperr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected forbidden error, got nil")
	}
	ae := apperr.As(err)
	if ae.Status() != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%v)", ae.Status(), err)
	}
	return ae
}

func TestEvaluate_NilPrincipalIsUnauthenticated(t *testing.T) {
	err := Evaluate(nil, All(Permission(role.PermModulesApprove)), nil)
	if !apperr.IsKind(err, apperr.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestEvaluate_EmptyCallerApprovingIsForbiddenWithSets(t *testing.T) {
	p := &Principal{UserID: "u-1"}

	ae := mustForbidden(t, Evaluate(p, All(Permission(role.PermModulesApprove)), nil))

	if got := ae.Details["requiredPermissions"]; !reflect.DeepEqual(got, []string{"modules:approve"}) {
		t.Fatalf("requiredPermissions = %#v", got)
	}
	if got := ae.Details["userPermissions"]; !reflect.DeepEqual(got, []string{}) {
		t.Fatalf("userPermissions = %#v", got)
	}
}

func TestEvaluate_Role(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		require []string
		wantErr bool
	}{
		{name: "matching role", roles: []string{"moderator"}, require: []string{"admin", "moderator"}},
		{name: "no roles", roles: nil, require: []string{"admin"}, wantErr: true},
		{name: "other role", roles: []string{"viewer"}, require: []string{"admin"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Principal{UserID: "u-1", Roles: tt.roles}
			err := Evaluate(p, All(Role(tt.require...)), nil)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ae := mustForbidden(t, err)
			if _, ok := ae.Details["requiredRoles"]; !ok {
				t.Fatalf("expected requiredRoles in details")
			}
			if got := ae.Details["userRoles"]; got == nil {
				t.Fatalf("userRoles must be present even when empty")
			}
		})
	}
}

func TestEvaluate_AnyPermission(t *testing.T) {
	p := &Principal{UserID: "u-1", Permissions: []string{role.PermRatingsModerate}}

	if err := Evaluate(p, All(AnyPermission(role.PermModulesModerate, role.PermRatingsModerate)), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustForbidden(t, Evaluate(p, All(AnyPermission(role.PermModulesModerate, role.PermUsersManage)), nil))
}

func TestEvaluate_Ownership(t *testing.T) {
	owner := &Principal{UserID: "owner", Roles: []string{role.RoleContributor}}
	stranger := &Principal{UserID: "other", Roles: []string{role.RoleContributor}}
	moderator := &Principal{UserID: "mod", Roles: []string{role.RoleModerator}}

	res := &Resource{OwnerID: "owner"}
	spec := All(Ownership())

	if err := Evaluate(owner, spec, res); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	if err := Evaluate(moderator, spec, res); err != nil {
		t.Fatalf("moderator should bypass: %v", err)
	}
	mustForbidden(t, Evaluate(stranger, spec, res))

	// A resource without a known owner is never owned by the caller.
	mustForbidden(t, Evaluate(stranger, spec, nil))

	adminOnly := All(Ownership(role.RoleAdmin))
	mustForbidden(t, Evaluate(moderator, adminOnly, res))
}

func TestEvaluate_AllStopsAtFirstFailure(t *testing.T) {
	p := &Principal{UserID: "u-1", Permissions: []string{role.PermModulesUpdate}}

	spec := All(Permission(role.PermModulesUpdate), Ownership(role.RoleAdmin))
	ae := mustForbidden(t, Evaluate(p, spec, &Resource{OwnerID: "someone-else"}))
	if ae.Details != nil {
		t.Fatalf("ownership failure should carry no capability sets, got %v", ae.Details)
	}
}

func TestEvaluate_AnyOfMergesRequiredSets(t *testing.T) {
	p := &Principal{UserID: "u-1", Permissions: []string{}}

	spec := AnyOf(Permission(role.PermModulesDeleteAny), Permission(role.PermModulesModerate))
	ae := mustForbidden(t, Evaluate(p, spec, nil))

	got := ae.Details["requiredPermissions"]
	want := []string{role.PermModulesDeleteAny, role.PermModulesModerate}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("requiredPermissions = %#v, want %#v", got, want)
	}

	p.Permissions = []string{role.PermModulesModerate}
	if err := Evaluate(p, spec, nil); err != nil {
		t.Fatalf("second alternative should satisfy: %v", err)
	}
}

func TestEvaluate_EmptySpecAllowsAuthenticated(t *testing.T) {
	if err := Evaluate(&Principal{UserID: "u-1"}, All(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Permission(P) passes exactly when P is a subset of the effective permissions
// derived from active grants.
func TestPermissionRequirementMatchesEffectiveSubset(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	all := role.AllPermissions()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	pick := func(n int) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, all[rng.Intn(len(all))])
		}
		return out
	}

	for i := 0; i < 500; i++ {
		var grants []role.Grant
		for g := 0; g < rng.Intn(4); g++ {
			grant := role.Grant{RoleName: "r", Permissions: pick(rng.Intn(5))}
			if rng.Intn(2) == 0 {
				exp := now.Add(time.Duration(rng.Intn(120)-60) * time.Minute)
				grant.ExpiresAt = &exp
			}
			grants = append(grants, grant)
		}

		roles, perms := role.Effective(grants, now)
		required := pick(rng.Intn(3) + 1)

		active := map[string]bool{}
		for _, g := range grants {
			if g.Active(now) {
				for _, p := range g.Permissions {
					active[p] = true
				}
			}
		}
		subset := true
		for _, r := range required {
			if !active[r] {
				subset = false
			}
		}

		err := Evaluate(&Principal{UserID: "u", Roles: roles, Permissions: perms}, All(Permission(required...)), nil)
		if subset != (err == nil) {
			t.Fatalf("iteration %d: required=%v perms=%v subset=%v err=%v", i, required, perms, subset, err)
		}
	}
}
