package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/cache"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/geocoder89/learnhub/internal/utils"
	"github.com/gin-gonic/gin"
)

type RoleStore interface {
	ListRoles(ctx context.Context) ([]role.Role, error)
	GetRole(ctx context.Context, id string) (role.Role, error)
	ListPermissions(ctx context.Context) ([]role.Permission, error)
	GrantsForUser(ctx context.Context, userID string) ([]role.Grant, error)
	Assign(ctx context.Context, req role.AssignRequest, actorID string) (role.Grant, error)
	Revoke(ctx context.Context, req role.RevokeRequest, actorID string) error
	ChangeLogs(ctx context.Context, f role.ChangeLogFilter) ([]role.ChangeLog, error)
}

const (
	rolesCachePrefix   = "roles:"
	rolesListCacheKey  = "roles:list"
	permissionsListKey = "permissions:list"

	changeLogDefaultLimit = 50
	changeLogMaxLimit     = 200
)

type RolesHandler struct {
	store RoleStore
	cache *cache.Cache
	now   func() time.Time
}

// NewRolesHandler caches the role and permission catalog in c. A nil cache
// disables caching.
func NewRolesHandler(store RoleStore, c *cache.Cache) *RolesHandler {
	return &RolesHandler{
		store: store,
		cache: c,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type changeLogPage struct {
	Items      []role.ChangeLog `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type userRolesResponse struct {
	UserID      string       `json:"userId"`
	Grants      []role.Grant `json:"grants"`
	Roles       []string     `json:"roles"`
	Permissions []string     `json:"permissions"`
}

func (h *RolesHandler) ListRoles(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	v, err := h.cached(rolesListCacheKey, func() (any, error) {
		return h.store.ListRoles(cctx)
	})
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not list roles", err))
		return
	}

	RespondOKWithETag(ctx, v, "")
}

func (h *RolesHandler) GetRole(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	v, err := h.cached(rolesCachePrefix+"get:"+id, func() (any, error) {
		return h.store.GetRole(cctx, id)
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOKWithETag(ctx, v, "")
}

func (h *RolesHandler) ListPermissions(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	v, err := h.cached(permissionsListKey, func() (any, error) {
		return h.store.ListPermissions(cctx)
	})
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not list permissions", err))
		return
	}

	RespondOKWithETag(ctx, v, "")
}

// POST /users/roles/assign
func (h *RolesHandler) Assign(ctx *gin.Context) {
	var req role.AssignRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(h.now()) {
		RespondErr(ctx, apperr.Validation("invalid_expiry", "expiresAt must be in the future"))
		return
	}

	actorID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	grant, err := h.store.Assign(cctx, req, actorID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	h.invalidate()
	RespondCreated(ctx, grant, "Role assigned successfully")
}

// POST /users/roles/revoke
func (h *RolesHandler) Revoke(ctx *gin.Context) {
	var req role.RevokeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	actorID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Revoke(cctx, req, actorID); err != nil {
		RespondErr(ctx, err)
		return
	}

	h.invalidate()
	RespondOK(ctx, nil, "Role revoked successfully")
}

// GET /roles/audit/changes?userId=&limit=&cursor=
func (h *RolesHandler) ChangeLogs(ctx *gin.Context) {
	f := role.ChangeLogFilter{Limit: changeLogDefaultLimit}

	if userID := ctx.Query("userId"); userID != "" {
		if !utils.IsUUID(userID) {
			RespondErr(ctx, apperr.Validation("invalid_query", "userId must be a valid UUID"))
			return
		}
		f.UserID = userID
	}

	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > changeLogMaxLimit {
			RespondErr(ctx, apperr.Validation("invalid_query", "limit must be between 1 and "+strconv.Itoa(changeLogMaxLimit)))
			return
		}
		f.Limit = n
	}

	if raw := ctx.Query("cursor"); raw != "" {
		c, err := utils.DecodeCursor(raw)
		if err != nil {
			RespondErr(ctx, apperr.Validation("invalid_cursor", "cursor is invalid"))
			return
		}
		f.BeforeAt = &c.CreatedAt
		f.BeforeID = c.ID
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	logs, err := h.store.ChangeLogs(cctx, f)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not fetch role change logs", err))
		return
	}
	if logs == nil {
		logs = []role.ChangeLog{}
	}

	page := changeLogPage{Items: logs}
	if len(logs) == f.Limit {
		last := logs[len(logs)-1]
		if next, err := utils.EncodeCursor(last.CreatedAt, last.ID); err == nil {
			page.NextCursor = next
		}
	}

	RespondOK(ctx, page, "")
}

// GET /users/:id/roles
func (h *RolesHandler) UserRoles(ctx *gin.Context) {
	userID, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	grants, err := h.store.GrantsForUser(cctx, userID)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not fetch user roles", err))
		return
	}

	active := make([]role.Grant, 0, len(grants))
	for _, g := range grants {
		if g.Active(h.now()) {
			active = append(active, g)
		}
	}
	roles, perms := role.Effective(active, h.now())

	RespondOK(ctx, userRolesResponse{
		UserID:      userID,
		Grants:      active,
		Roles:       roles,
		Permissions: perms,
	}, "")
}

// OwnerFromParam treats the :id path segment as the owning user id, for
// routes that are scoped to a user.
func OwnerFromParam(name string) middlewares.OwnerLookup {
	return func(c *gin.Context) (string, error) {
		return c.Param(name), nil
	}
}

func (h *RolesHandler) cached(key string, load func() (any, error)) (any, error) {
	if h.cache == nil {
		return load()
	}
	return h.cache.GetOrLoad(key, load)
}

// invalidate drops role listings since user counts change with every grant.
func (h *RolesHandler) invalidate() {
	if h.cache != nil {
		h.cache.DeletePrefix(rolesCachePrefix)
	}
}
