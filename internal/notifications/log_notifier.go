package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes decisions to the structured log. It stands in for a
// mail or push provider.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyReviewDecision(ctx context.Context, d ReviewDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.review_decision",
		"module_id", d.ModuleID,
		"module_name", d.ModuleName,
		"uploader_id", d.UploaderID,
		"reviewer_id", d.ReviewerID,
		"decision", d.Decision,
		"reason", d.Reason,
	)
	return nil
}
