package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/enrichworker/task"
	"github.com/leadfoundry/enrichworker/trace"
)

type captureRunner struct {
	mu       sync.Mutex
	payloads []*task.Payload
	traces   []trace.Context
}

func (r *captureRunner) Run(ctx context.Context, p *task.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	r.traces = append(r.traces, trace.From(ctx))
	return nil
}

func TestLocal_EnqueueRunsPayload(t *testing.T) {
	runner := &captureRunner{}
	q := NewLocal(runner)

	p := &task.Payload{
		TaskName:      "account_enrichment",
		JobID:         "job-1",
		AccountID:     "acct-1",
		TraceID:       "trace-1",
		AttemptNumber: 1,
		MaxRetries:    3,
		Data:          map[string]any{"domain": "acme.example"},
	}
	taskID, err := q.Enqueue(context.Background(), p)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	assert.NotEqual(t, p.JobID, taskID)

	q.Wait()

	require.Len(t, runner.payloads, 1)
	got := runner.payloads[0]
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "acme.example", got.Data["domain"])
	// the runner receives a decoded copy, not the caller's pointer
	assert.NotSame(t, p, got)

	tc := runner.traces[0]
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "job-1", tc.JobID)
}

func TestLocal_ExecutionSurvivesCallerCancel(t *testing.T) {
	runner := &captureRunner{}
	q := NewLocal(runner)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := q.Enqueue(ctx, &task.Payload{
		TaskName: "t", JobID: "job-c", AttemptNumber: 1, MaxRetries: 3,
	})
	require.NoError(t, err)
	cancel()

	q.Wait()
	require.Len(t, runner.payloads, 1)
}
