package module

import (
	"errors"
	"time"

	"github.com/geocoder89/learnhub/internal/domain/role"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusHidden   Status = "hidden"
)

var (
	ErrNotFound           = errors.New("module not found")
	ErrSubchapterNotFound = errors.New("subchapter not found")
	ErrInvalidTransition  = errors.New("invalid module status transition")
	ErrNoFile             = errors.New("module has no file")
)

type Module struct {
	ID               string     `json:"id"`
	SubchapterID     string     `json:"subchapterId"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Order            int        `json:"order"`
	ContentType      string     `json:"contentType"`
	FileKey          string     `json:"-"`
	FileSize         int64      `json:"fileSize"`
	FileHash         string     `json:"fileHash,omitempty"`
	Status           Status     `json:"status"`
	UploadedBy       string     `json:"uploadedBy"`
	UploaderUsername string     `json:"uploaderUsername,omitempty"`
	ReviewedBy       *string    `json:"reviewedBy"`
	ReviewedAt       *time.Time `json:"reviewedAt"`
	ReviewerUsername string     `json:"reviewerUsername,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Reviewed reports whether the review stamp is consistent with the status:
// both reviewer fields are set exactly when the module has left pending.
func (m *Module) Reviewed() bool {
	return m.ReviewedBy != nil && m.ReviewedAt != nil
}

// VisibleTo implements the read rule: approved modules are public, everything
// else is limited to the uploader and elevated roles.
func (m *Module) VisibleTo(userID string, roles []string) bool {
	if m.Status == StatusApproved {
		return true
	}
	if userID != "" && m.UploadedBy == userID {
		return true
	}
	return role.IsElevated(roles)
}

type Action string

const (
	ActionUpload  Action = "upload"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionHide    Action = "hide"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// Transition describes one moderation edge and the permission that governs it.
type Transition struct {
	Action     Action
	Target     Status
	Permission string
	From       []Status
}

// Approve and reject may be re-applied or swapped while the module is still
// reviewable. Nothing leaves hidden.
var transitions = map[Action]Transition{
	ActionApprove: {
		Action:     ActionApprove,
		Target:     StatusApproved,
		Permission: role.PermModulesApprove,
		From:       []Status{StatusPending, StatusApproved, StatusRejected},
	},
	ActionReject: {
		Action:     ActionReject,
		Target:     StatusRejected,
		Permission: role.PermModulesApprove,
		From:       []Status{StatusPending, StatusApproved, StatusRejected},
	},
	ActionHide: {
		Action:     ActionHide,
		Target:     StatusHidden,
		Permission: role.PermModulesModerate,
		From:       []Status{StatusPending, StatusApproved, StatusRejected, StatusHidden},
	},
}

func TransitionFor(a Action) (Transition, bool) {
	t, ok := transitions[a]
	return t, ok
}

func (t Transition) Allowed(from Status) bool {
	for _, s := range t.From {
		if s == from {
			return true
		}
	}
	return false
}

// Apply moves m along t, stamping the reviewer. It returns the prior status.
func (t Transition) Apply(m *Module, actorID string, now time.Time) (Status, error) {
	prior := m.Status
	if !t.Allowed(prior) {
		return prior, ErrInvalidTransition
	}

	actor := actorID
	at := now
	m.Status = t.Target
	m.ReviewedBy = &actor
	m.ReviewedAt = &at
	m.UpdatedAt = now

	return prior, nil
}

// AuditEvent is an immutable moderation log row.
type AuditEvent struct {
	ID        string         `json:"id"`
	ModuleID  string         `json:"moduleId"`
	ActorID   string         `json:"userId"`
	Username  string         `json:"username,omitempty"`
	Action    Action         `json:"action"`
	Outcome   string         `json:"status"`
	From      *Status        `json:"fromStatus,omitempty"`
	To        *Status        `json:"toStatus,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ipAddress,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

const OutcomeSuccess = "success"

type ListFilter struct {
	SubchapterID string
	ViewerID     string
	// Elevated viewers see every status.
	Elevated bool
}

type UpdateRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=200"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	Order       *int    `json:"order" binding:"omitempty,min=0"`
}

func (r UpdateRequest) Apply(m *Module, now time.Time) {
	if r.Name != nil {
		m.Name = *r.Name
	}
	if r.Description != nil {
		m.Description = *r.Description
	}
	if r.Order != nil {
		m.Order = *r.Order
	}
	m.UpdatedAt = now
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// UploadMeta is the form part of an upload.
type UploadMeta struct {
	Name        string `form:"name" binding:"required,max=200"`
	Description string `form:"description" binding:"max=2000"`
	Order       int    `form:"order" binding:"min=0"`
}
