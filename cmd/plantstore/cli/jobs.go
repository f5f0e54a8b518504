package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"
)

// Job names accepted by jobs trigger.
const (
	JobReorderScan        = "reorder-scan"
	JobIdempotencyCleanup = "idempotency-cleanup"
)

// JobEnqueuer submits the manual jobs.
type JobEnqueuer interface {
	EnqueueReorderCheck(ctx context.Context, itemIDs []int64) (*asynq.TaskInfo, error)
	EnqueueIdempotencyCleanup(ctx context.Context) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client JobEnqueuer
}

// NewJobsCLI initialises the CLI helpers.
func NewJobsCLI(client JobEnqueuer) *JobsCLI {
	return &JobsCLI{client: client}
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	switch name {
	case JobReorderScan:
		return c.client.EnqueueReorderCheck(ctx, nil)
	case JobIdempotencyCleanup:
		return c.client.EnqueueIdempotencyCleanup(ctx)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %q (expected %s|%s)", name, JobReorderScan, JobIdempotencyCleanup)
	}
}

// TriggerCommand runs Trigger and prints the enqueued task.
func (c *JobsCLI) TriggerCommand(ctx context.Context, name string, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	info, err := c.Trigger(ctx, name)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}
