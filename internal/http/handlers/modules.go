package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/domain/content"
	"github.com/geocoder89/learnhub/internal/domain/module"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/geocoder89/learnhub/internal/moderation"
	"github.com/geocoder89/learnhub/internal/utils"
	"github.com/gin-gonic/gin"
)

// ModuleService is the moderation surface the handlers need.
type ModuleService interface {
	Upload(ctx context.Context, p *authz.Principal, in moderation.UploadInput) (module.Module, error)
	Get(ctx context.Context, p *authz.Principal, id string) (module.Module, error)
	ListBySubchapter(ctx context.Context, p *authz.Principal, subchapterID string) ([]module.Module, error)
	Download(ctx context.Context, p *authz.Principal, id string) (moderation.Download, error)
	Update(ctx context.Context, p *authz.Principal, id string, req module.UpdateRequest) (module.Module, error)
	Delete(ctx context.Context, p *authz.Principal, id string) error
	Approve(ctx context.Context, p *authz.Principal, id string) (module.Module, error)
	Reject(ctx context.Context, p *authz.Principal, id, reason string) (module.Module, error)
	Hide(ctx context.Context, p *authz.Principal, id string) (module.Module, error)
	Logs(ctx context.Context, p *authz.Principal, id string) ([]module.AuditEvent, error)
}

type ModulesHandler struct {
	svc     ModuleService
	maxSize int64
}

func NewModulesHandler(svc ModuleService, maxFileSize int64) *ModulesHandler {
	return &ModulesHandler{svc: svc, maxSize: maxFileSize}
}

// POST /modules/subchapter/:subchapterId/upload
func (h *ModulesHandler) Upload(ctx *gin.Context) {
	subchapterID, ok := uuidParam(ctx, "subchapterId")
	if !ok {
		return
	}

	var meta module.UploadMeta
	if !BindForm(ctx, &meta) {
		return
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		RespondError(ctx, http.StatusBadRequest, "no_file", "No file uploaded", nil)
		return
	}

	f, err := fh.Open()
	if err != nil {
		RespondBadRequest(ctx, "Could not read uploaded file", nil)
		return
	}
	defer f.Close()

	// one byte past the limit is enough for the gate to report too_large
	data, err := io.ReadAll(io.LimitReader(f, h.maxSize+1))
	if err != nil {
		RespondBadRequest(ctx, "Could not read uploaded file", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 30*time.Second)
	defer cancel()

	m, err := h.svc.Upload(cctx, middlewares.PrincipalFromContext(ctx), moderation.UploadInput{
		SubchapterID: subchapterID,
		Meta:         meta,
		File: content.File{
			Name:         fh.Filename,
			DeclaredType: fh.Header.Get("Content-Type"),
			Data:         data,
		},
	})
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondCreated(ctx, m, "Module uploaded successfully and pending approval")
}

// GET /modules/subchapter/:subchapterId
func (h *ModulesHandler) ListBySubchapter(ctx *gin.Context) {
	subchapterID, ok := uuidParam(ctx, "subchapterId")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.svc.ListBySubchapter(cctx, middlewares.PrincipalFromContext(ctx), subchapterID)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, items, "")
}

func (h *ModulesHandler) Get(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	m, err := h.svc.Get(cctx, middlewares.PrincipalFromContext(ctx), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, m, "")
}

func (h *ModulesHandler) Download(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	d, err := h.svc.Download(cctx, middlewares.PrincipalFromContext(ctx), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, d, "")
}

func (h *ModulesHandler) Update(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	var req module.UpdateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	m, err := h.svc.Update(cctx, middlewares.PrincipalFromContext(ctx), id, req)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, m, "Module updated successfully")
}

func (h *ModulesHandler) Delete(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.Delete(cctx, middlewares.PrincipalFromContext(ctx), id); err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, nil, "Module deleted successfully")
}

func (h *ModulesHandler) Approve(ctx *gin.Context) {
	h.moderate(ctx, "Module approved successfully", func(cctx context.Context, p *authz.Principal, id string) (module.Module, error) {
		return h.svc.Approve(cctx, p, id)
	})
}

func (h *ModulesHandler) Reject(ctx *gin.Context) {
	var req module.RejectRequest

	// the reason is optional, so is the body
	if ctx.Request.ContentLength != 0 && !BindJSON(ctx, &req) {
		return
	}

	h.moderate(ctx, "Module rejected", func(cctx context.Context, p *authz.Principal, id string) (module.Module, error) {
		return h.svc.Reject(cctx, p, id, req.Reason)
	})
}

func (h *ModulesHandler) Hide(ctx *gin.Context) {
	h.moderate(ctx, "Module hidden successfully", func(cctx context.Context, p *authz.Principal, id string) (module.Module, error) {
		return h.svc.Hide(cctx, p, id)
	})
}

func (h *ModulesHandler) Logs(ctx *gin.Context) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	events, err := h.svc.Logs(cctx, middlewares.PrincipalFromContext(ctx), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, events, "")
}

func (h *ModulesHandler) moderate(ctx *gin.Context, message string, fn func(context.Context, *authz.Principal, string) (module.Module, error)) {
	id, ok := uuidParam(ctx, "id")
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	m, err := fn(cctx, middlewares.PrincipalFromContext(ctx), id)
	if err != nil {
		RespondErr(ctx, err)
		return
	}

	RespondOK(ctx, m, message)
}

// uuidParam reads a path id, answering 400 when it is not a UUID.
func uuidParam(ctx *gin.Context, name string) (string, bool) {
	id := ctx.Param(name)
	if !utils.IsUUID(id) {
		RespondErr(ctx, apperr.Validation("invalid_id", name+" must be a valid UUID"))
		return "", false
	}
	return id, true
}
