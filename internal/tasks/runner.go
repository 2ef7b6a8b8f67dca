package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arborhq/arbor/internal/model"
)

// Executor performs one kind of task. Payload is the JSON-encoded task
// payload.
type Executor func(ctx context.Context, payload []byte) error

// Executors maps task types to their executors. The same registry backs
// both the inline runner and the queue worker.
type Executors map[string]Executor

// Runner dispatches tasks. Run returns a task reference when the work was
// queued for a worker, or nil when it was executed before returning.
type Runner interface {
	Run(ctx context.Context, taskType string, payload interface{}) (*model.TaskRef, error)
}

// InlineRunner executes tasks synchronously in the calling goroutine. It
// is used when no queue backend is configured, and in tests.
type InlineRunner struct {
	execs Executors
}

// NewInlineRunner creates a runner over the given executor registry.
func NewInlineRunner(execs Executors) *InlineRunner {
	return &InlineRunner{execs: execs}
}

func (r *InlineRunner) Run(ctx context.Context, taskType string, payload interface{}) (*model.TaskRef, error) {
	exec, ok := r.execs[taskType]
	if !ok {
		return nil, fmt.Errorf("no executor for task type %q", taskType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := exec(ctx, data); err != nil {
		return nil, fmt.Errorf("run %s: %w", taskType, err)
	}
	return nil, nil
}

// QueuedRunner enqueues tasks on redis for the worker process. Completed
// tasks are retained so their status stays queryable for a day.
type QueuedRunner struct {
	client *asynq.Client
}

// NewQueuedRunner creates a runner on the given redis connection.
func NewQueuedRunner(opt asynq.RedisClientOpt) *QueuedRunner {
	return &QueuedRunner{client: asynq.NewClient(opt)}
}

func (r *QueuedRunner) Run(ctx context.Context, taskType string, payload interface{}) (*model.TaskRef, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	info, err := r.client.EnqueueContext(ctx, asynq.NewTask(taskType, data),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return &model.TaskRef{ID: info.ID, Href: "/api/tasks/" + info.ID}, nil
}

func (r *QueuedRunner) Close() error {
	return r.client.Close()
}
