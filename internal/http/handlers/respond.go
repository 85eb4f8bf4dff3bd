package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/domain/hierarchy"
	"github.com/geocoder89/learnhub/internal/domain/rating"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/domain/user"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

func RespondOK(ctx *gin.Context, data interface{}, message string) {
	ctx.JSON(http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

func RespondCreated(ctx *gin.Context, data interface{}, message string) {
	ctx.JSON(http.StatusCreated, Envelope{Success: true, Data: data, Message: message})
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.AbortWithStatusJSON(status, Envelope{
		Success:   false,
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: middlewares.RequestIDFromContext(ctx),
	})
}

// RespondErr maps a service or repository error to its envelope. Internal
// causes are logged and never sent to the client.
func RespondErr(ctx *gin.Context, err error) {
	err = fromDomain(err)
	if e := apperr.As(err); e.Kind == apperr.KindInternal {
		slog.Default().ErrorContext(ctx.Request.Context(), "request_failed",
			"err", err,
			"route", ctx.FullPath(),
			"request_id", middlewares.RequestIDFromContext(ctx),
		)
	}
	middlewares.AbortWithError(ctx, err)
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

// fromDomain classifies repository sentinels. Errors that are already
// classified, or unknown, pass through.
func fromDomain(err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return apperr.NotFound("User not found")
	case errors.Is(err, user.ErrEmailTaken):
		return apperr.Conflict("email_taken", "Email is already in use")
	case errors.Is(err, user.ErrUsernameTaken):
		return apperr.Conflict("username_taken", "Username is already taken")
	case errors.Is(err, role.ErrRoleNotFound):
		return apperr.NotFound("Role not found")
	case errors.Is(err, role.ErrGrantNotFound):
		return apperr.NotFound("User does not have this role")
	case errors.Is(err, role.ErrDuplicateGrant):
		return apperr.Conflict("duplicate_grant", "User already has this role")
	case errors.Is(err, hierarchy.ErrSubjectNotFound):
		return apperr.NotFound("Subject not found")
	case errors.Is(err, hierarchy.ErrChapterNotFound):
		return apperr.NotFound("Chapter not found")
	case errors.Is(err, hierarchy.ErrSubchapterNotFound):
		return apperr.NotFound("Subchapter not found")
	case errors.Is(err, rating.ErrNotFound):
		return apperr.NotFound("Rating not found")
	case errors.Is(err, rating.ErrAlreadyRated):
		return apperr.Conflict("already_rated", "You have already rated this module")
	default:
		return err
	}
}
