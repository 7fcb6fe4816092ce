package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carddesigner",
			Subsystem: "asynq",
			Name:      "task_duration_seconds",
			Help:      "打印任务处理耗时（秒），按结果区分。",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"task_type", "result"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "carddesigner",
			Subsystem: "asynq",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的任务数量。",
		},
		[]string{"task_type"},
	)
)

// taskResult 把处理结果归为 ok、retry（asynq 会重试）与 dropped（SkipRetry，不再重试）。
func taskResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, asynq.SkipRetry):
		return "dropped"
	default:
		return "retry"
	}
}

// AsynqMetricsMiddleware 记录 worker 上每类任务的耗时与结果。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			inProgress := taskInProgress.WithLabelValues(taskType)
			inProgress.Inc()
			defer inProgress.Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(taskType, taskResult(err)).Observe(time.Since(start).Seconds())
			return err
		})
	}
}
