package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/domain/module"
	"github.com/geocoder89/learnhub/internal/domain/rating"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/geocoder89/learnhub/internal/utils"
	"github.com/gin-gonic/gin"
)

type RatingStore interface {
	ForModule(ctx context.Context, moduleID string) (rating.ModuleRatings, error)
	Create(ctx context.Context, moduleID, userID string, req rating.CreateRequest) (rating.Rating, error)
	GetByID(ctx context.Context, id string) (rating.Rating, error)
	Delete(ctx context.Context, id string) error
}

// ModuleReader resolves a module with the caller's visibility applied.
type ModuleReader interface {
	Get(ctx context.Context, p *authz.Principal, id string) (module.Module, error)
}

type RatingsHandler struct {
	store   RatingStore
	modules ModuleReader
}

func NewRatingsHandler(store RatingStore, modules ModuleReader) *RatingsHandler {
	return &RatingsHandler{store: store, modules: modules}
}

// GET /ratings/module/:moduleId
func (h *RatingsHandler) ForModule(ctx *gin.Context) {
	moduleID, ok := uuidParam(ctx, "moduleId")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if _, err := h.modules.Get(cctx, middlewares.PrincipalFromContext(ctx), moduleID); err != nil {
		RespondErr(ctx, err)
		return
	}

	out, err := h.store.ForModule(cctx, moduleID)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not fetch ratings", err))
		return
	}
	if out.Ratings == nil {
		out.Ratings = []rating.Rating{}
	}

	RespondOK(ctx, out, "")
}

// POST /ratings/module/:moduleId
func (h *RatingsHandler) Create(ctx *gin.Context) {
	moduleID, ok := uuidParam(ctx, "moduleId")
	if !ok {
		return
	}

	var req rating.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	p := middlewares.PrincipalFromContext(ctx)
	if p == nil {
		RespondErr(ctx, apperr.Unauthenticated("Authentication required"))
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	m, err := h.modules.Get(cctx, p, moduleID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	if m.Status != module.StatusApproved {
		RespondErr(ctx, apperr.Conflict("module_not_approved", "Only approved modules can be rated"))
		return
	}

	r, err := h.store.Create(cctx, moduleID, p.UserID, req)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondCreated(ctx, r, "Rating submitted successfully")
}

// DELETE /ratings/:id. Ownership is enforced by the route guard.
func (h *RatingsHandler) Delete(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Delete(cctx, id); err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, nil, "Rating deleted successfully")
}

// Owner resolves the author of the rating in the :id path segment.
func (h *RatingsHandler) Owner(c *gin.Context) (string, error) {
	id := c.Param("id")
	if !utils.IsUUID(id) {
		return "", apperr.Validation("invalid_id", "id must be a valid UUID")
	}

	cctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	r, err := h.store.GetByID(cctx, id)
	if err != nil {
		return "", fromDomain(err)
	}
	return r.UserID, nil
}
