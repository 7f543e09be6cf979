package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/task"
	"github.com/leadfoundry/enrichworker/trace"
)

// Local runs payloads in-process, used when no Cloud Tasks queue is
// available. Execution happens on a background goroutine carrying the
// payload's trace context, mirroring the asynchronous delivery of the real
// queue.
type Local struct {
	runner Runner
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewLocal creates an in-process queue dispatching to runner. The runner
// may be nil at construction and wired later with SetRunner, since the
// runner's callback path can itself need the queue.
func NewLocal(runner Runner) *Local {
	return &Local{runner: runner, logger: slog.Default()}
}

// SetRunner wires the runner after construction.
func (q *Local) SetRunner(runner Runner) {
	q.runner = runner
}

// Enqueue implements TaskQueue.
func (q *Local) Enqueue(ctx context.Context, p *task.Payload) (string, error) {
	if q.runner == nil {
		return "", fmt.Errorf("local queue has no runner")
	}
	taskID := "local-" + uuid.NewString()

	// re-marshal so local mode exercises the same payload codec as the
	// real queue
	body, err := p.Marshal()
	if err != nil {
		return "", err
	}
	dup, err := task.UnmarshalPayload(body)
	if err != nil {
		return "", err
	}

	q.wg.Add(1)
	trace.Go(trace.With(context.WithoutCancel(ctx), p.Trace()), func(runCtx context.Context) {
		defer q.wg.Done()
		if err := q.runner.Run(runCtx, dup); err != nil {
			q.logger.ErrorContext(runCtx, "local task execution failed",
				"job_id", dup.JobID, "task", dup.TaskName, "error", err)
		}
	})

	metrics.QueueEnqueues.WithLabelValues("local", "ok").Inc()
	q.logger.InfoContext(ctx, "job enqueued locally", "job_id", p.JobID, "task", p.TaskName, "queue_task", taskID)
	return taskID, nil
}

// Wait blocks until all in-flight local executions finish; used in tests
// and graceful shutdown.
func (q *Local) Wait() {
	q.wg.Wait()
}
