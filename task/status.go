package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job statuses. The machine is scheduled -> processing -> completed|failed;
// terminal states never transition again.
const (
	StatusScheduled  = "scheduled"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// validTransitions enumerates the allowed status moves.
var validTransitions = map[string]map[string]bool{
	StatusScheduled:  {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// ValidTransition reports whether a job may move from one status to another.
// Setting the same status again is allowed (idempotent re-delivery).
func ValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// JobStatus is the persisted record of one job.
type JobStatus struct {
	JobID          string         `json:"job_id"`
	TaskName       string         `json:"task_name"`
	Status         string         `json:"status"`
	AccountID      string         `json:"account_id,omitempty"`
	LeadID         string         `json:"lead_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	AttemptNumber  int            `json:"attempt_number"`
	MaxRetries     int            `json:"max_retries"`
	OriginalJobID  string         `json:"original_job_id,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	Retryable      bool           `json:"retryable"`
	ErrorDetails   map[string]any `json:"error_details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	LastCompletion float64        `json:"last_completion_percentage"`
	// Payload is the job's original payload, kept so a failed job can be
	// re-enqueued without the client resubmitting it.
	Payload *Payload `json:"payload,omitempty"`
}

// FailedFilter narrows ListFailed results.
type FailedFilter struct {
	Since         time.Time
	Until         time.Time
	RetryableOnly bool
	// Limit is clamped to [1, 1000]; zero means the maximum.
	Limit int
}

func (f FailedFilter) limit() int {
	switch {
	case f.Limit <= 0, f.Limit > 1000:
		return 1000
	default:
		return f.Limit
	}
}

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = NewError(KindNotFound, "job not found", nil)

// StatusStore persists job status records.
type StatusStore interface {
	Put(ctx context.Context, js *JobStatus) error
	Get(ctx context.Context, jobID string) (*JobStatus, error)
	ListFailed(ctx context.Context, filter FailedFilter) ([]*JobStatus, error)
}

// MemoryStatusStore is the in-process store used in local mode and tests.
type MemoryStatusStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

// NewMemoryStatusStore creates an empty in-memory store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{jobs: make(map[string]*JobStatus)}
}

func (s *MemoryStatusStore) Put(_ context.Context, js *JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[js.JobID]; ok && !ValidTransition(prev.Status, js.Status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", prev.Status, js.Status, js.JobID)
	}
	dup := *js
	s.jobs[js.JobID] = &dup
	return nil
}

func (s *MemoryStatusStore) Get(_ context.Context, jobID string) (*JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	dup := *js
	return &dup, nil
}

func (s *MemoryStatusStore) ListFailed(_ context.Context, filter FailedFilter) ([]*JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*JobStatus
	for _, js := range s.jobs {
		if !matchesFailedFilter(js, filter) {
			continue
		}
		dup := *js
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func matchesFailedFilter(js *JobStatus, filter FailedFilter) bool {
	if js.Status != StatusFailed {
		return false
	}
	if filter.RetryableOnly && !js.Retryable {
		return false
	}
	if !filter.Since.IsZero() && js.UpdatedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && js.UpdatedAt.After(filter.Until) {
		return false
	}
	return true
}

const (
	redisJobKeyPrefix = "jobs:status:"
	redisFailedSet    = "jobs:failed"
	jobRecordTTL      = 14 * 24 * time.Hour
)

// RedisStatusStore persists job records as JSON values with a sorted set of
// failed job IDs scored by failure time, so the failed listing is a range
// query instead of a scan.
type RedisStatusStore struct {
	client redis.UniversalClient
}

// NewRedisStatusStore wraps a redis client.
func NewRedisStatusStore(client redis.UniversalClient) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

func (s *RedisStatusStore) Put(ctx context.Context, js *JobStatus) error {
	prev, err := s.Get(ctx, js.JobID)
	if err != nil && err != ErrJobNotFound {
		return err
	}
	if prev != nil && !ValidTransition(prev.Status, js.Status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", prev.Status, js.Status, js.JobID)
	}

	body, err := json.Marshal(js)
	if err != nil {
		return fmt.Errorf("marshal job status %s: %w", js.JobID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisJobKeyPrefix+js.JobID, body, jobRecordTTL)
	if js.Status == StatusFailed {
		pipe.ZAdd(ctx, redisFailedSet, redis.Z{
			Score:  float64(js.UpdatedAt.Unix()),
			Member: js.JobID,
		})
	} else {
		pipe.ZRem(ctx, redisFailedSet, js.JobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job status %s: %w", js.JobID, err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, jobID string) (*JobStatus, error) {
	body, err := s.client.Get(ctx, redisJobKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job status %s: %w", jobID, err)
	}
	var js JobStatus
	if err := json.Unmarshal(body, &js); err != nil {
		return nil, fmt.Errorf("decode job status %s: %w", jobID, err)
	}
	return &js, nil
}

func (s *RedisStatusStore) ListFailed(ctx context.Context, filter FailedFilter) ([]*JobStatus, error) {
	minScore, maxScore := "-inf", "+inf"
	if !filter.Since.IsZero() {
		minScore = fmt.Sprintf("%d", filter.Since.Unix())
	}
	if !filter.Until.IsZero() {
		maxScore = fmt.Sprintf("%d", filter.Until.Unix())
	}

	// Newest failures first. Over-fetch is bounded by the set itself; the
	// retryable_only filter is applied after loading records.
	ids, err := s.client.ZRevRangeByScore(ctx, redisFailedSet, &redis.ZRangeBy{
		Min: minScore,
		Max: maxScore,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	limit := filter.limit()
	out := make([]*JobStatus, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		js, err := s.Get(ctx, id)
		if err == ErrJobNotFound {
			// record expired out from under the index
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.RetryableOnly && !js.Retryable {
			continue
		}
		out = append(out, js)
	}
	return out, nil
}
