package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// NewMux builds the worker-side handler mux from an executor registry.
// Each task type dispatches to its executor with the raw JSON payload.
func NewMux(execs Executors) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, exec := range execs {
		taskType, exec := taskType, exec
		mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			if err := exec(ctx, t.Payload()); err != nil {
				slog.Error("task failed", "type", taskType, "error", err)
				return err
			}
			slog.Info("task done", "type", taskType, "duration", time.Since(start))
			return nil
		})
	}
	return mux
}

// NewServer creates the asynq worker server.
func NewServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      slogAdapter{},
	})
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug("asynq", "msg", args) }
func (slogAdapter) Info(args ...interface{})  { slog.Info("asynq", "msg", args) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn("asynq", "msg", args) }
func (slogAdapter) Error(args ...interface{}) { slog.Error("asynq", "msg", args) }
func (slogAdapter) Fatal(args ...interface{}) { slog.Error("asynq", "msg", args) }
