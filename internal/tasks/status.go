package tasks

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrTaskNotFound is returned when no task with the given ID is known to
// the queue backend.
var ErrTaskNotFound = errors.New("task not found")

// Info is the externally visible state of a queued task.
type Info struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusReader looks up task state. The queued implementation asks the
// redis backend; deployments without a queue have no reader.
type StatusReader interface {
	Status(id string) (*Info, error)
}

// QueueStatusReader reads task state through an asynq inspector.
type QueueStatusReader struct {
	inspector *asynq.Inspector
}

// NewQueueStatusReader creates a reader on the given redis connection.
func NewQueueStatusReader(opt asynq.RedisClientOpt) *QueueStatusReader {
	return &QueueStatusReader{inspector: asynq.NewInspector(opt)}
}

func (r *QueueStatusReader) Status(id string) (*Info, error) {
	info, err := r.inspector.GetTaskInfo("default", id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task info: %w", err)
	}
	return &Info{
		ID:     info.ID,
		Type:   info.Type,
		Status: statusName(info.State),
		Error:  info.LastErr,
	}, nil
}

func (r *QueueStatusReader) Close() error {
	return r.inspector.Close()
}

func statusName(s asynq.TaskState) string {
	switch s {
	case asynq.TaskStateActive:
		return "started"
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateAggregating:
		return "queued"
	case asynq.TaskStateRetry:
		return "retrying"
	case asynq.TaskStateArchived:
		return "failed"
	case asynq.TaskStateCompleted:
		return "completed"
	default:
		return s.String()
	}
}
