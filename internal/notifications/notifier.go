package notifications

import "context"

// ReviewDecision tells an uploader what happened to their module.
type ReviewDecision struct {
	ModuleID   string
	ModuleName string
	UploaderID string
	ReviewerID string
	Decision   string
	Reason     string
}

type Notifier interface {
	NotifyReviewDecision(ctx context.Context, d ReviewDecision) error
}
