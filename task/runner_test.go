package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/enrichworker/callback"
	"github.com/leadfoundry/enrichworker/sink"
	"github.com/leadfoundry/enrichworker/trace"
)

// captureSender records every envelope it is asked to deliver.
type captureSender struct {
	mu        sync.Mutex
	envelopes []*callback.Envelope
	fail      bool
}

func (c *captureSender) Send(_ context.Context, env *callback.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return assert.AnError
	}
	dup := *env
	c.envelopes = append(c.envelopes, &dup)
	return nil
}

func (c *captureSender) all() []*callback.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*callback.Envelope(nil), c.envelopes...)
}

func testPayload() *Payload {
	return &Payload{
		TaskName:      "stub",
		JobID:         "job-1",
		AccountID:     "acct-1",
		TenantID:      "tenant-1",
		TraceID:       "trace-1",
		AttemptNumber: 1,
		MaxRetries:    3,
	}
}

func newTestRunner(t *testing.T, task Task, opts ...RunnerOption) (*Runner, *captureSender, *MemoryStatusStore, *sink.Memory) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(task))
	sender := &captureSender{}
	store := NewMemoryStatusStore()
	archive := sink.NewMemory()
	opts = append([]RunnerOption{WithSink(archive)}, opts...)
	return NewRunner(reg, store, sender, opts...), sender, store, archive
}

func TestRunner_SuccessLifecycle(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(ctx context.Context, p *Payload, rep Reporter) (map[string]any, error) {
		rep.Progress(ctx, 50, map[string]any{"stage": "halfway"})
		return map[string]any{"summary": "done"}, nil
	}}
	runner, sender, store, archive := newTestRunner(t, task)

	require.NoError(t, runner.Run(context.Background(), testPayload()))

	envs := sender.all()
	require.Len(t, envs, 3)

	assert.Equal(t, StatusProcessing, envs[0].Status)
	assert.Equal(t, 0.0, envs[0].CompletionPercentage)
	assert.Equal(t, "stub", envs[0].EnrichmentType)
	assert.Equal(t, "trace-1", envs[0].TraceID)

	assert.Equal(t, 50.0, envs[1].CompletionPercentage)
	assert.True(t, envs[1].IsPartial)
	assert.Equal(t, "halfway", envs[1].ProcessedData["stage"])

	assert.Equal(t, StatusCompleted, envs[2].Status)
	assert.Equal(t, 100.0, envs[2].CompletionPercentage)
	assert.False(t, envs[2].IsPartial)
	assert.Equal(t, "done", envs[2].ProcessedData["summary"])

	js, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, js.Status)
	require.NotNil(t, js.CompletedAt)

	records := archive.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, "done", records[0].ProcessedData["summary"])
}

func TestRunner_ProgressIsMonotonic(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(ctx context.Context, p *Payload, rep Reporter) (map[string]any, error) {
		rep.Progress(ctx, 60, nil)
		rep.Progress(ctx, 40, nil)  // regression dropped
		rep.Progress(ctx, 60, nil)  // duplicate dropped
		rep.Progress(ctx, 150, nil) // clamped below 100
		return nil, nil
	}}
	runner, sender, _, _ := newTestRunner(t, task)

	require.NoError(t, runner.Run(context.Background(), testPayload()))

	var progress []float64
	for _, env := range sender.all() {
		if env.Status == StatusProcessing && env.CompletionPercentage > 0 {
			progress = append(progress, env.CompletionPercentage)
		}
	}
	assert.Equal(t, []float64{60, 99}, progress)
}

func TestRunner_FailureLifecycle(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(context.Context, *Payload, Reporter) (map[string]any, error) {
		return nil, NewError(KindProvider, "upstream exploded", nil)
	}}
	runner, sender, store, _ := newTestRunner(t, task)

	err := runner.Run(context.Background(), testPayload())
	require.Error(t, err)

	envs := sender.all()
	require.Len(t, envs, 2)
	terminal := envs[1]
	assert.Equal(t, StatusFailed, terminal.Status)
	assert.Equal(t, 100.0, terminal.CompletionPercentage)
	assert.Equal(t, "provider", terminal.ErrorDetails["kind"])
	assert.Equal(t, true, terminal.ErrorDetails["retryable"])

	js, getErr := store.Get(context.Background(), "job-1")
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, js.Status)
	assert.True(t, js.Retryable)
}

func TestRunner_PartialFailure(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(context.Context, *Payload, Reporter) (map[string]any, error) {
		return map[string]any{"enriched": []any{"e1", "e2"}}, &Error{
			Kind:    KindPartial,
			Message: "2 of 4 entities failed",
			Partial: []EntityError{
				{EntityID: "e3", Message: "no data"},
				{EntityID: "e4", Message: "timeout"},
			},
		}
	}}
	runner, sender, _, _ := newTestRunner(t, task)

	err := runner.Run(context.Background(), testPayload())
	require.Error(t, err)

	terminal := sender.all()[1]
	assert.Equal(t, StatusCompleted, terminal.Status)
	assert.True(t, terminal.IsPartial)
	assert.NotNil(t, terminal.ProcessedData["enriched"])
	entities := terminal.ErrorDetails["entity_errors"].([]map[string]any)
	require.Len(t, entities, 2)
	assert.Equal(t, "e3", entities[0]["entity_id"])
}

func TestRunner_PanicBecomesFailure(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(context.Context, *Payload, Reporter) (map[string]any, error) {
		panic("nil map write")
	}}
	runner, sender, _, _ := newTestRunner(t, task)

	err := runner.Run(context.Background(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panicked")

	terminal := sender.all()[1]
	assert.Equal(t, StatusFailed, terminal.Status)
}

func TestRunner_BudgetExceeded(t *testing.T) {
	task := &stubTask{name: "stub", execute: func(ctx context.Context, _ *Payload, _ Reporter) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	runner, sender, _, _ := newTestRunner(t, task, WithExecutionBudget(10*time.Millisecond))

	err := runner.Run(context.Background(), testPayload())
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	terminal := sender.all()[1]
	assert.Equal(t, StatusFailed, terminal.Status)
	assert.Equal(t, "timeout", terminal.ErrorDetails["kind"])
}

func TestRunner_TraceRestoredInsideExecute(t *testing.T) {
	var got trace.Context
	task := &stubTask{name: "stub", execute: func(ctx context.Context, _ *Payload, _ Reporter) (map[string]any, error) {
		got = trace.From(ctx)
		return nil, nil
	}}
	runner, _, _, _ := newTestRunner(t, task)

	require.NoError(t, runner.Run(context.Background(), testPayload()))
	assert.Equal(t, "trace-1", got.TraceID)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "stub", got.TaskName)
}

func TestRunner_UnknownTask(t *testing.T) {
	runner, sender, _, _ := newTestRunner(t, &stubTask{name: "stub"})

	p := testPayload()
	p.TaskName = "missing"
	err := runner.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Empty(t, sender.all())
}
