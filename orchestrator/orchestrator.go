package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/leadfoundry/enrichworker/callback"
	"github.com/leadfoundry/enrichworker/queue"
	"github.com/leadfoundry/enrichworker/task"
	"github.com/leadfoundry/enrichworker/trace"
)

// ColumnTaskName is the task executed for each column in a chain.
const ColumnTaskName = "column_generation"

// Data is the orchestration state threaded through callback envelopes. Each
// completed column's callback carries the remaining chain, which the
// orchestrator pops to enqueue the next column.
type Data struct {
	ChainID          string   `json:"chain_id"`
	RemainingColumns []string `json:"remaining_columns"`
	EntityIDs        []string `json:"entity_ids"`
	BatchSize        int      `json:"batch_size,omitempty"`
	TenantID         string   `json:"tenant_id,omitempty"`
	AccountID        string   `json:"account_id,omitempty"`
}

// DependencySource resolves a column's dependencies. Implemented over the
// tenant's column catalog.
type DependencySource interface {
	Dependencies(ctx context.Context, tenantID, column string) ([]string, error)
}

// StaticDependencies is a fixed dependency table; used in local mode and
// tests.
type StaticDependencies map[string][]string

func (s StaticDependencies) Dependencies(_ context.Context, _ string, column string) ([]string, error) {
	return s[column], nil
}

// StartRequest describes one requested column-generation chain.
type StartRequest struct {
	TenantID  string
	AccountID string
	Columns   []string
	EntityIDs []string
	BatchSize int
}

// Orchestrator sequences column chains. A chain is identified by the
// fingerprint of its tenant and entity set; starting a chain that is already
// in flight is rejected rather than doubled.
type Orchestrator struct {
	queue  queue.TaskQueue
	deps   DependencySource
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]string // fingerprint -> chain ID
}

// New creates an orchestrator enqueueing through q.
func New(q queue.TaskQueue, deps DependencySource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		queue:    q,
		deps:     deps,
		logger:   logger,
		inflight: make(map[string]string),
	}
}

// ErrChainInFlight is returned when the same tenant/entity set already has a
// running chain.
var ErrChainInFlight = fmt.Errorf("a column chain for this entity set is already in flight")

// Start orders the requested columns, registers the chain, and enqueues the
// first column. Returns the chain ID.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if len(req.Columns) == 0 {
		return "", task.Validationf("at least one column is required")
	}
	if len(req.EntityIDs) == 0 {
		return "", task.Validationf("at least one entity_id is required")
	}

	deps := make(map[string][]string, len(req.Columns))
	for _, col := range req.Columns {
		d, err := o.deps.Dependencies(ctx, req.TenantID, col)
		if err != nil {
			return "", fmt.Errorf("resolve dependencies for column %s: %w", col, err)
		}
		deps[col] = d
	}

	graph, err := NewGraph(req.Columns, deps)
	if err != nil {
		return "", task.NewError(task.KindValidation, "invalid column dependency graph", err)
	}
	order := graph.Order()

	fp := fingerprint(req.TenantID, req.EntityIDs)
	chainID := uuid.NewString()

	o.mu.Lock()
	if existing, busy := o.inflight[fp]; busy {
		o.mu.Unlock()
		o.logger.WarnContext(ctx, "chain already in flight",
			"tenant_id", req.TenantID, "existing_chain", existing)
		return "", ErrChainInFlight
	}
	o.inflight[fp] = chainID
	o.mu.Unlock()

	data := Data{
		ChainID:          chainID,
		RemainingColumns: order[1:],
		EntityIDs:        req.EntityIDs,
		BatchSize:        req.BatchSize,
		TenantID:         req.TenantID,
		AccountID:        req.AccountID,
	}
	if err := o.enqueueColumn(ctx, order[0], data); err != nil {
		o.release(fp)
		return "", err
	}

	o.logger.InfoContext(ctx, "column chain started",
		"chain_id", chainID, "columns", order, "entities", len(req.EntityIDs))
	return chainID, nil
}

// HandleCallback advances a chain from one column's terminal callback. A
// completed column enqueues the next; a failed column halts the chain and
// releases its entity set.
func (o *Orchestrator) HandleCallback(ctx context.Context, env *callback.Envelope) error {
	if len(env.Orchestration) == 0 || !env.Terminal() {
		return nil
	}
	var data Data
	if err := json.Unmarshal(env.Orchestration, &data); err != nil {
		return task.NewError(task.KindParse, "decode orchestration data", err)
	}
	fp := fingerprint(data.TenantID, data.EntityIDs)

	if env.Status == task.StatusFailed {
		o.release(fp)
		o.logger.WarnContext(ctx, "column chain halted",
			"chain_id", data.ChainID, "failed_job", env.JobID,
			"remaining", data.RemainingColumns)
		return nil
	}

	if len(data.RemainingColumns) == 0 {
		o.release(fp)
		o.logger.InfoContext(ctx, "column chain finished", "chain_id", data.ChainID)
		return nil
	}

	next := data.RemainingColumns[0]
	data.RemainingColumns = data.RemainingColumns[1:]
	if err := o.enqueueColumn(ctx, next, data); err != nil {
		o.release(fp)
		return err
	}
	return nil
}

func (o *Orchestrator) enqueueColumn(ctx context.Context, column string, data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal orchestration data: %w", err)
	}

	tc := trace.From(ctx)
	if tc.TraceID == "" {
		tc.TraceID = trace.GenerateID()
	}

	p := &task.Payload{
		TaskName:      ColumnTaskName,
		JobID:         uuid.NewString(),
		AccountID:     data.AccountID,
		TenantID:      data.TenantID,
		TraceID:       tc.TraceID,
		AttemptNumber: 1,
		MaxRetries:    task.DefaultMaxRetries,
		Data: map[string]any{
			"column":     column,
			"entity_ids": data.EntityIDs,
			"batch_size": data.BatchSize,
		},
		Orchestration: raw,
	}

	if _, err := o.queue.Enqueue(ctx, p); err != nil {
		return fmt.Errorf("enqueue column %s: %w", column, err)
	}
	o.logger.InfoContext(ctx, "column enqueued",
		"chain_id", data.ChainID, "column", column, "job_id", p.JobID,
		"remaining", len(data.RemainingColumns))
	return nil
}

func (o *Orchestrator) release(fp string) {
	o.mu.Lock()
	delete(o.inflight, fp)
	o.mu.Unlock()
}

// fingerprint identifies a chain's target: one tenant plus one entity set,
// order-independent.
func fingerprint(tenantID string, entityIDs []string) string {
	ids := append([]string(nil), entityIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(tenantID + "\x00" + strings.Join(ids, "\x00")))
	return hex.EncodeToString(sum[:])
}
