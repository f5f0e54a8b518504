package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/plantops/plantstore/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderCheck scans stock positions against item reorder thresholds.
	TaskReorderCheck = "stock:reorder_check"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReorderCheckPayload lists the items to scan. Empty means every active item.
type ReorderCheckPayload struct {
	ItemIDs []int64 `json:"item_ids"`
}

// NewReorderCheckTask builds a reorder check task.
func NewReorderCheckTask(itemIDs []int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReorderCheckPayload{ItemIDs: itemIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderCheck, body, asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload sets the key retention in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task; zero retention uses the default.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.MaxRetry(1)), nil
}
