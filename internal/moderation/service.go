// Package moderation runs the module lifecycle: the upload gate, the review
// state machine with its audit trail, visibility-checked reads and presigned
// downloads.
package moderation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geocoder89/learnhub/internal/actorctx"
	"github.com/geocoder89/learnhub/internal/apperr"
	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/domain/content"
	"github.com/geocoder89/learnhub/internal/domain/module"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/notifications"
	"github.com/geocoder89/learnhub/internal/storage/blob"
)

// Store persists modules and their audit trail. Create, Transition and
// Delete must write the module change and the audit event atomically.
type Store interface {
	SubchapterExists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, m module.Module, ev module.AuditEvent) (module.Module, error)
	GetByID(ctx context.Context, id string) (module.Module, error)
	List(ctx context.Context, f module.ListFilter) ([]module.Module, error)
	// Transition locks the module, lets fn mutate it and returns the event
	// to append. Nothing is written when fn fails.
	Transition(ctx context.Context, id string, fn func(m *module.Module) (module.AuditEvent, error)) (module.Module, error)
	Update(ctx context.Context, id string, fn func(m *module.Module) error) (module.Module, error)
	Delete(ctx context.Context, id string, ev module.AuditEvent) error
	Logs(ctx context.Context, moduleID string) ([]module.AuditEvent, error)
}

type Recorder interface {
	ObserveTransition(action, outcome string)
	ObserveUpload(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string) {}
func (nopRecorder) ObserveUpload(string)             {}

type Options struct {
	PresignTTL time.Duration
	Notifier   notifications.Notifier
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	store      Store
	blobs      blob.Store
	gate       *content.Gate
	notifier   notifications.Notifier
	metrics    Recorder
	log        *slog.Logger
	presignTTL time.Duration
	now        func() time.Time
}

func NewService(store Store, blobs blob.Store, gate *content.Gate, opts Options) *Service {
	s := &Service{
		store:      store,
		blobs:      blobs,
		gate:       gate,
		notifier:   opts.Notifier,
		metrics:    opts.Recorder,
		log:        opts.Logger,
		presignTTL: opts.PresignTTL,
		now:        opts.Now,
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.presignTTL <= 0 {
		s.presignTTL = time.Hour
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type UploadInput struct {
	SubchapterID string
	Meta         module.UploadMeta
	File         content.File
}

// Upload gates the file, stores the blob and creates the module as pending.
// A rejected file never reaches the blob store or the database.
func (s *Service) Upload(ctx context.Context, p *authz.Principal, in UploadInput) (module.Module, error) {
	if err := authz.Evaluate(p, authz.All(authz.Permission(role.PermModulesCreate)), nil); err != nil {
		return module.Module{}, err
	}

	checked, err := s.gate.Check(in.File)
	if err != nil {
		var ve *content.ValidationError
		if errors.As(err, &ve) {
			s.metrics.ObserveUpload(string(ve.Reason))
			return module.Module{}, apperr.Validation(string(ve.Reason), ve.Message).WithDetail("reason", string(ve.Reason))
		}
		s.metrics.ObserveUpload("error")
		return module.Module{}, apperr.Internal("Could not validate file", err)
	}

	ok, err := s.store.SubchapterExists(ctx, in.SubchapterID)
	if err != nil {
		return module.Module{}, apperr.Internal("Could not upload module", err)
	}
	if !ok {
		return module.Module{}, apperr.NotFound("Subchapter not found")
	}

	now := s.now()
	obj := blob.Object{
		Key:         checked.Key,
		ContentType: checked.ContentType,
		Size:        checked.Size,
		Metadata: map[string]string{
			"original-name": checked.Name,
			"uploaded-at":   now.Format(time.RFC3339),
		},
	}
	if err := s.blobs.Put(ctx, obj, bytes.NewReader(checked.Data)); err != nil {
		s.metrics.ObserveUpload("error")
		return module.Module{}, apperr.Internal("Could not store file", err)
	}

	m := module.Module{
		SubchapterID: in.SubchapterID,
		Name:         in.Meta.Name,
		Description:  in.Meta.Description,
		Order:        in.Meta.Order,
		ContentType:  checked.ContentType,
		FileKey:      checked.Key,
		FileSize:     checked.Size,
		FileHash:     checked.Hash,
		Status:       module.StatusPending,
		UploadedBy:   p.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	to := module.StatusPending
	created, err := s.store.Create(ctx, m, s.event(ctx, p, module.ActionUpload, nil, &to, nil))
	if err != nil {
		// Orphaned blobs are harmless but worth cleaning up.
		if derr := s.blobs.Delete(ctx, checked.Key); derr != nil {
			s.log.WarnContext(ctx, "blob_cleanup_failed", "key", checked.Key, "err", derr)
		}
		s.metrics.ObserveUpload("error")
		if errors.Is(err, module.ErrSubchapterNotFound) {
			return module.Module{}, apperr.NotFound("Subchapter not found")
		}
		return module.Module{}, apperr.Internal("Could not upload module", err)
	}

	s.metrics.ObserveUpload("ok")
	s.audit(ctx, created.ID, module.ActionUpload, "", module.StatusPending)

	return created, nil
}

func (s *Service) Approve(ctx context.Context, p *authz.Principal, id string) (module.Module, error) {
	return s.transition(ctx, p, id, module.ActionApprove, nil)
}

func (s *Service) Reject(ctx context.Context, p *authz.Principal, id, reason string) (module.Module, error) {
	details := map[string]any{}
	if reason != "" {
		details["reason"] = reason
	}
	return s.transition(ctx, p, id, module.ActionReject, details)
}

func (s *Service) Hide(ctx context.Context, p *authz.Principal, id string) (module.Module, error) {
	return s.transition(ctx, p, id, module.ActionHide, nil)
}

func (s *Service) transition(ctx context.Context, p *authz.Principal, id string, action module.Action, details map[string]any) (module.Module, error) {
	tr, ok := module.TransitionFor(action)
	if !ok {
		return module.Module{}, apperr.Internal("Unknown moderation action", nil)
	}

	if err := authz.Evaluate(p, authz.All(authz.Permission(tr.Permission)), nil); err != nil {
		s.metrics.ObserveTransition(string(action), "forbidden")
		return module.Module{}, err
	}

	var prior module.Status
	updated, err := s.store.Transition(ctx, id, func(m *module.Module) (module.AuditEvent, error) {
		from, err := tr.Apply(m, p.UserID, s.now())
		if err != nil {
			return module.AuditEvent{}, err
		}
		prior = from
		to := m.Status
		return s.event(ctx, p, action, &from, &to, details), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, module.ErrNotFound):
			s.metrics.ObserveTransition(string(action), "not_found")
			return module.Module{}, apperr.NotFound("Module not found")
		case errors.Is(err, module.ErrInvalidTransition):
			s.metrics.ObserveTransition(string(action), "invalid")
			return module.Module{}, apperr.Conflict("invalid_transition", "Module cannot be "+pastTense(action)+" from its current status")
		default:
			s.metrics.ObserveTransition(string(action), "error")
			return module.Module{}, apperr.Internal("Could not update module status", err)
		}
	}

	s.metrics.ObserveTransition(string(action), "ok")
	s.audit(ctx, id, action, prior, updated.Status)
	s.notify(ctx, updated, p.UserID, action, details)

	return updated, nil
}

// Get returns a module if the caller may see it. p may be nil for anonymous reads.
func (s *Service) Get(ctx context.Context, p *authz.Principal, id string) (module.Module, error) {
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, module.ErrNotFound) {
			return module.Module{}, apperr.NotFound("Module not found")
		}
		return module.Module{}, apperr.Internal("Could not fetch module", err)
	}

	userID, roles := viewer(p)
	if !m.VisibleTo(userID, roles) {
		return module.Module{}, apperr.Forbidden("Access denied")
	}
	return m, nil
}

func (s *Service) ListBySubchapter(ctx context.Context, p *authz.Principal, subchapterID string) ([]module.Module, error) {
	userID, roles := viewer(p)

	items, err := s.store.List(ctx, module.ListFilter{
		SubchapterID: subchapterID,
		ViewerID:     userID,
		Elevated:     role.IsElevated(roles),
	})
	if err != nil {
		return nil, apperr.Internal("Could not list modules", err)
	}
	if items == nil {
		items = []module.Module{}
	}
	return items, nil
}

type Download struct {
	URL       string    `json:"downloadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Download hands out a time-limited URL, never the blob itself.
func (s *Service) Download(ctx context.Context, p *authz.Principal, id string) (Download, error) {
	if p == nil {
		return Download{}, apperr.Unauthenticated("Authentication required")
	}

	m, err := s.Get(ctx, p, id)
	if err != nil {
		return Download{}, err
	}
	if m.FileKey == "" {
		return Download{}, apperr.NotFound("Module has no file")
	}

	url, err := s.blobs.Presign(ctx, m.FileKey, s.presignTTL)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Download{}, apperr.NotFound("Module has no file")
		}
		return Download{}, apperr.Internal("Could not generate download link", err)
	}

	return Download{URL: url, ExpiresAt: s.now().Add(s.presignTTL)}, nil
}

// Update edits metadata. Only the uploader or an admin may do so.
func (s *Service) Update(ctx context.Context, p *authz.Principal, id string, req module.UpdateRequest) (module.Module, error) {
	if err := authz.Evaluate(p, authz.All(authz.Permission(role.PermModulesUpdate)), nil); err != nil {
		return module.Module{}, err
	}

	updated, err := s.store.Update(ctx, id, func(m *module.Module) error {
		guard := authz.All(authz.Ownership(role.RoleAdmin))
		if err := authz.Evaluate(p, guard, &authz.Resource{OwnerID: m.UploadedBy}); err != nil {
			return apperr.Forbidden("Access denied. You can only update your own modules")
		}
		req.Apply(m, s.now())
		return nil
	})
	if err != nil {
		if errors.Is(err, module.ErrNotFound) {
			return module.Module{}, apperr.NotFound("Module not found")
		}
		if ae := apperr.As(err); ae.Kind == apperr.KindForbidden {
			return module.Module{}, ae
		}
		return module.Module{}, apperr.Internal("Could not update module", err)
	}
	return updated, nil
}

// Delete removes a module owned by the caller, or any module with
// modules:delete-any. The blob is removed after commit on a best effort basis.
func (s *Service) Delete(ctx context.Context, p *authz.Principal, id string) error {
	if err := authz.Evaluate(p, authz.All(authz.Permission(role.PermModulesDelete)), nil); err != nil {
		return err
	}

	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, module.ErrNotFound) {
			return apperr.NotFound("Module not found")
		}
		return apperr.Internal("Could not delete module", err)
	}

	guard := authz.AnyOf(authz.OwnerOnly(), authz.Permission(role.PermModulesDeleteAny))
	if err := authz.Evaluate(p, guard, &authz.Resource{OwnerID: m.UploadedBy}); err != nil {
		return apperr.Forbidden("Access denied")
	}

	from := m.Status
	if err := s.store.Delete(ctx, id, s.event(ctx, p, module.ActionDelete, &from, nil, nil)); err != nil {
		if errors.Is(err, module.ErrNotFound) {
			return apperr.NotFound("Module not found")
		}
		return apperr.Internal("Could not delete module", err)
	}

	if m.FileKey != "" {
		if err := s.blobs.Delete(ctx, m.FileKey); err != nil {
			s.log.WarnContext(ctx, "blob_delete_failed", "module_id", id, "key", m.FileKey, "err", err)
		}
	}

	s.audit(ctx, id, module.ActionDelete, from, "")
	return nil
}

// Logs returns the audit trail of a module, newest first.
func (s *Service) Logs(ctx context.Context, p *authz.Principal, id string) ([]module.AuditEvent, error) {
	if err := authz.Evaluate(p, authz.All(authz.Permission(role.PermModulesModerate)), nil); err != nil {
		return nil, err
	}

	events, err := s.store.Logs(ctx, id)
	if err != nil {
		return nil, apperr.Internal("Could not fetch module logs", err)
	}
	if events == nil {
		events = []module.AuditEvent{}
	}
	return events, nil
}

func (s *Service) event(ctx context.Context, p *authz.Principal, action module.Action, from, to *module.Status, details map[string]any) module.AuditEvent {
	if len(details) == 0 {
		details = nil
	}
	return module.AuditEvent{
		ActorID:   p.UserID,
		Action:    action,
		Outcome:   module.OutcomeSuccess,
		From:      from,
		To:        to,
		Details:   details,
		IP:        actorctx.IPFrom(ctx),
		CreatedAt: s.now(),
	}
}

func (s *Service) audit(ctx context.Context, moduleID string, action module.Action, from, to module.Status) {
	s.log.InfoContext(ctx, "audit",
		"event", "module."+string(action),
		"module_id", moduleID,
		"from_status", string(from),
		"to_status", string(to),
		"ip", actorctx.IPFrom(ctx),
	)
}

// notify tells the uploader about a review decision. Failures are logged and
// never undo the committed transition.
func (s *Service) notify(ctx context.Context, m module.Module, reviewerID string, action module.Action, details map[string]any) {
	if s.notifier == nil || m.UploadedBy == reviewerID {
		return
	}

	reason, _ := details["reason"].(string)
	err := s.notifier.NotifyReviewDecision(ctx, notifications.ReviewDecision{
		ModuleID:   m.ID,
		ModuleName: m.Name,
		UploaderID: m.UploadedBy,
		ReviewerID: reviewerID,
		Decision:   string(m.Status),
		Reason:     reason,
	})
	if err != nil {
		s.log.WarnContext(ctx, "review_notification_failed", "module_id", m.ID, "action", string(action), "err", err)
	}
}

func viewer(p *authz.Principal) (string, []string) {
	if p == nil {
		return "", nil
	}
	return p.UserID, p.Roles
}

func pastTense(a module.Action) string {
	switch a {
	case module.ActionApprove:
		return "approved"
	case module.ActionReject:
		return "rejected"
	case module.ActionHide:
		return "hidden"
	default:
		return string(a) + "d"
	}
}
