package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/qrdine/qrdine/internal/audit"
)

// AuditRetentionJob trims the audit feed to its retention window.
type AuditRetentionJob struct {
	store  *audit.PGStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditRetentionJob constructs the job.
func NewAuditRetentionJob(store *audit.PGStore, logger *slog.Logger) *AuditRetentionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRetentionJob{store: store, logger: logger, now: time.Now}
}

// Handle processes one retention run.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		return asynq.SkipRetry
	}
	cutoff := j.now().Add(-payload.Retention)
	count, err := j.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("audit retention", slog.Any("error", err))
		return err
	}
	j.logger.Info("audit retention complete",
		slog.Int64("deleted", count), slog.Time("cutoff", cutoff))
	return nil
}
