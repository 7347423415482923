package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/session"
)

// SessionSweepJob deletes expired sessions from the store.
type SessionSweepJob struct {
	manager  *session.Manager
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewSessionSweepJob constructs the job.
func NewSessionSweepJob(manager *session.Manager, recorder *audit.Recorder, logger *slog.Logger) *SessionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweepJob{manager: manager, recorder: recorder, logger: logger}
}

// Handle processes one sweep run.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	count, err := j.manager.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("session sweep", slog.Any("error", err))
		return err
	}
	j.logger.Info("session sweep complete", slog.Int64("deleted", count))
	if j.recorder != nil && count > 0 {
		j.recorder.Record(audit.Event{
			Type:        audit.EventSessionRevoked,
			Severity:    audit.SeverityLow,
			Description: "expired sessions swept",
			Metadata:    map[string]any{"deleted": count},
		})
	}
	return nil
}
