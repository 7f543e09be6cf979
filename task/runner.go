package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/leadfoundry/enrichworker/callback"
	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/sink"
	"github.com/leadfoundry/enrichworker/trace"
)

// DefaultExecutionBudget caps one task execution's wall clock. Cloud Tasks
// redelivers on timeout, so the budget stays under the queue's deadline.
const DefaultExecutionBudget = 25 * time.Minute

// CallbackSender delivers lifecycle callbacks. Satisfied by callback.Client.
type CallbackSender interface {
	Send(ctx context.Context, env *callback.Envelope) error
}

// Runner drives a payload through the task lifecycle: status bookkeeping,
// the initial callback, execution with progress reporting, exactly one
// terminal callback, and archival.
type Runner struct {
	registry *Registry
	store    StatusStore
	sender   CallbackSender
	archive  sink.Sink
	budget   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExecutionBudget overrides the wall-clock budget.
func WithExecutionBudget(d time.Duration) RunnerOption {
	return func(r *Runner) { r.budget = d }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithSink sets the archival sink. Without one, results are not archived.
func WithSink(s sink.Sink) RunnerOption {
	return func(r *Runner) { r.archive = s }
}

// NewRunner creates a runner.
func NewRunner(registry *Registry, store StatusStore, sender CallbackSender, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		store:    store,
		sender:   sender,
		budget:   DefaultExecutionBudget,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// progressReporter forwards task progress as intermediate callbacks.
// Percentages are clamped to (0, 100) and never regress; the runner owns the
// 0 and 100 endpoints.
type progressReporter struct {
	runner  *Runner
	task    Task
	payload *Payload
	mu      sync.Mutex
	last    float64
}

func (p *progressReporter) Progress(ctx context.Context, percent float64, processed map[string]any) {
	p.mu.Lock()
	if percent <= p.last || percent <= 0 {
		p.mu.Unlock()
		return
	}
	if percent >= 100 {
		percent = 99
	}
	p.last = percent
	p.mu.Unlock()

	env := p.runner.envelope(p.payload, StatusProcessing, percent)
	env.EnrichmentType = p.task.EnrichmentType()
	env.IsPartial = true
	env.ProcessedData = processed
	if err := p.runner.sender.Send(ctx, env); err != nil {
		// progress is advisory; the terminal callback carries everything
		p.runner.logger.WarnContext(ctx, "progress callback failed",
			"job_id", p.payload.JobID, "percent", percent, "error", err)
	}
}

// Run executes one queued payload end to end. The returned error reflects
// execution failure; lifecycle bookkeeping errors are logged, not returned,
// so the queue does not redeliver jobs that already reported terminally.
func (r *Runner) Run(ctx context.Context, p *Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t, err := r.registry.Get(p.TaskName)
	if err != nil {
		return err
	}

	ctx = trace.With(ctx, p.Trace())
	started := r.now()

	r.putStatus(ctx, p, StatusProcessing, 0, nil)
	initial := r.envelope(p, StatusProcessing, 0)
	initial.EnrichmentType = t.EnrichmentType()
	if err := r.sender.Send(ctx, initial); err != nil {
		r.logger.WarnContext(ctx, "initial callback failed", "job_id", p.JobID, "error", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	data, execErr := r.execute(execCtx, t, p)
	if execErr != nil && execCtx.Err() != nil {
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			execErr = NewError(KindTimeout, fmt.Sprintf("execution budget %s exceeded", r.budget), execErr)
		case errors.Is(execCtx.Err(), context.Canceled):
			execErr = NewError(KindCancelled, "execution cancelled", execErr)
		}
	}

	// terminal reporting continues on the parent context so a blown budget
	// does not also swallow the failure callback
	r.finish(ctx, t, p, data, execErr, started)
	return execErr
}

// execute invokes the task with panic recovery.
func (r *Runner) execute(ctx context.Context, t Task, p *Payload) (data map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "task panicked",
				"job_id", p.JobID, "panic", rec, "stack", string(debug.Stack()))
			err = NewError(KindProvider, fmt.Sprintf("task panicked: %v", rec), nil)
		}
	}()
	rep := &progressReporter{runner: r, task: t, payload: p}
	return t.Execute(ctx, p, rep)
}

func (r *Runner) finish(ctx context.Context, t Task, p *Payload, data map[string]any, execErr error, started time.Time) {
	status := StatusCompleted
	isPartial := false
	var errDetails map[string]any

	if execErr != nil {
		errDetails = errorDetails(execErr)
		if KindOf(execErr) == KindPartial {
			// some entities succeeded; deliver their data and flag the rest
			status = StatusCompleted
			isPartial = true
		} else {
			status = StatusFailed
		}
	}

	env := r.envelope(p, status, 100)
	env.EnrichmentType = t.EnrichmentType()
	env.IsPartial = isPartial
	env.ProcessedData = data
	env.ErrorDetails = errDetails
	if err := r.sender.Send(ctx, env); err != nil {
		r.logger.ErrorContext(ctx, "terminal callback failed", "job_id", p.JobID, "error", err)
	}

	r.putStatus(ctx, p, status, 100, errDetails)
	r.persist(ctx, t, p, status, data, errDetails)

	metrics.TasksTotal.WithLabelValues(p.TaskName, status).Inc()
	metrics.TaskDuration.WithLabelValues(p.TaskName).Observe(r.now().Sub(started).Seconds())
	r.logger.InfoContext(ctx, "task finished",
		"job_id", p.JobID, "task", p.TaskName, "status", status,
		"duration", r.now().Sub(started), "partial", isPartial)
}

func (r *Runner) envelope(p *Payload, status string, percent float64) *callback.Envelope {
	return &callback.Envelope{
		JobID:                p.JobID,
		AccountID:            p.AccountID,
		LeadID:               p.LeadID,
		Status:               status,
		CompletionPercentage: percent,
		AttemptNumber:        p.AttemptNumber,
		MaxRetries:           p.MaxRetries,
		TraceID:              p.TraceID,
		Orchestration:        p.Orchestration,
	}
}

func (r *Runner) putStatus(ctx context.Context, p *Payload, status string, percent float64, errDetails map[string]any) {
	now := r.now()
	js := &JobStatus{
		JobID:          p.JobID,
		TaskName:       p.TaskName,
		Status:         status,
		AccountID:      p.AccountID,
		LeadID:         p.LeadID,
		TenantID:       p.TenantID,
		AttemptNumber:  p.AttemptNumber,
		MaxRetries:     p.MaxRetries,
		OriginalJobID:  p.OriginalJobID,
		TraceID:        p.TraceID,
		ErrorDetails:   errDetails,
		UpdatedAt:      now,
		LastCompletion: percent,
	}
	if status == StatusFailed {
		js.Retryable = errDetails != nil && errDetails["retryable"] == true && p.AttemptNumber < p.MaxRetries
	}
	if status == StatusCompleted || status == StatusFailed {
		js.CompletedAt = &now
	}
	if prev, err := r.store.Get(ctx, p.JobID); err == nil {
		js.CreatedAt = prev.CreatedAt
		js.Payload = prev.Payload
	} else {
		js.CreatedAt = now
	}
	if js.Payload == nil {
		js.Payload = p
	}
	if err := r.store.Put(ctx, js); err != nil {
		r.logger.ErrorContext(ctx, "store job status failed",
			"job_id", p.JobID, "status", status, "error", err)
	}
}

func (r *Runner) persist(ctx context.Context, t Task, p *Payload, status string, data, errDetails map[string]any) {
	if r.archive == nil {
		return
	}
	rec := &sink.Record{
		JobID:          p.JobID,
		TaskName:       p.TaskName,
		EnrichmentType: t.EnrichmentType(),
		AccountID:      p.AccountID,
		LeadID:         p.LeadID,
		TenantID:       p.TenantID,
		Status:         status,
		AttemptNumber:  p.AttemptNumber,
		TraceID:        p.TraceID,
		ProcessedData:  data,
		ErrorDetails:   errDetails,
		CreatedAt:      r.now(),
	}
	if err := r.archive.Persist(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "archive enrichment result failed",
			"job_id", p.JobID, "error", err)
	}
}

// errorDetails renders a task error for callbacks and status records.
func errorDetails(err error) map[string]any {
	details := map[string]any{
		"message":   err.Error(),
		"kind":      string(KindOf(err)),
		"retryable": Retryable(err),
	}
	var te *Error
	if errors.As(err, &te) && len(te.Partial) > 0 {
		entities := make([]map[string]any, 0, len(te.Partial))
		for _, ee := range te.Partial {
			entities = append(entities, map[string]any{
				"entity_id": ee.EntityID,
				"message":   ee.Message,
			})
		}
		details["entity_errors"] = entities
	}
	return details
}
