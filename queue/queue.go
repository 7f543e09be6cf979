// Package queue enqueues task payloads for asynchronous execution, either
// through Cloud Tasks or an in-process dispatcher for local development.
package queue

import (
	"context"

	"github.com/leadfoundry/enrichworker/task"
)

// TaskQueue schedules a payload for execution. The returned ID is the
// queue's own task identifier and is distinct from the payload's job_id.
type TaskQueue interface {
	Enqueue(ctx context.Context, p *task.Payload) (string, error)
}

// Runner executes a payload; satisfied by task.Runner. The local queue
// invokes it directly instead of going through an external queue service.
type Runner interface {
	Run(ctx context.Context, p *task.Payload) error
}
