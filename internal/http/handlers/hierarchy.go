package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/domain/hierarchy"
	"github.com/gin-gonic/gin"
)

type HierarchyReader interface {
	ListSubjects(ctx context.Context) ([]hierarchy.Subject, error)
	ListChapters(ctx context.Context, subjectID string) ([]hierarchy.Chapter, error)
	ListSubchapters(ctx context.Context, chapterID string) ([]hierarchy.Subchapter, error)
}

type HierarchyHandler struct {
	repo HierarchyReader
}

func NewHierarchyHandler(repo HierarchyReader) *HierarchyHandler {
	return &HierarchyHandler{repo: repo}
}

func (h *HierarchyHandler) ListSubjects(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.repo.ListSubjects(cctx)
	if err != nil {
		RespondErr(ctx, apperr.Internal("Could not list subjects", err))
		return
	}
	if items == nil {
		items = []hierarchy.Subject{}
	}

	RespondOKWithETag(ctx, items, "")
}

// GET /subjects/:id/chapters
func (h *HierarchyHandler) ListChapters(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.repo.ListChapters(cctx, id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	if items == nil {
		items = []hierarchy.Chapter{}
	}

	RespondOKWithETag(ctx, items, "")
}

// GET /chapters/:id/subchapters
func (h *HierarchyHandler) ListSubchapters(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.repo.ListSubchapters(cctx, id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}
	if items == nil {
		items = []hierarchy.Subchapter{}
	}

	RespondOKWithETag(ctx, items, "")
}
