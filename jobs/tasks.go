// Package jobs runs background maintenance over asynq: expired session
// sweeps and audit feed retention.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep deletes sessions past their expiry.
	TaskSessionSweep = "session:sweep"
	// TaskAuditRetention trims audit events past the retention window.
	TaskAuditRetention = "audit:retention"
)

// AuditRetentionPayload carries the retention window for one trim run.
type AuditRetentionPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSessionSweepTask constructs the sweep task. It carries no payload.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil)
}

// NewAuditRetentionTask constructs a retention task.
func NewAuditRetentionTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditRetentionPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
