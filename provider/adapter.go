// Package provider implements the uniform outbound-call abstraction used by
// every external data source: response cache in front, pooled HTTP client
// underneath, retry with backoff around the wire call, and an optional
// circuit breaker per provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leadfoundry/enrichworker/cache"
	"github.com/leadfoundry/enrichworker/httppool"
	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/retry"
)

// maxResponseSize limits provider response bodies to prevent memory
// exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// RequestSpec describes one outbound call.
type RequestSpec struct {
	Method  string
	URL     string
	Params  map[string]string
	Headers map[string]string
	Body    []byte

	// TenantID scopes the cache entry.
	TenantID string

	// CacheTTL overrides the cache lifetime. Zero keeps the cache default.
	CacheTTL time.Duration

	// ForceRefresh skips the cache lookup (the response is still stored).
	ForceRefresh bool

	// NoCache disables the cache entirely for this call.
	NoCache bool
}

// Response is the outcome of one outbound call.
type Response struct {
	StatusCode int
	Data       []byte
	FromCache  bool
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Adapter composes cache, connection pool, retry, and breaker for one
// provider.
type Adapter struct {
	name    string
	pool    *httppool.Pool
	cache   *cache.ResponseCache
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCache sets the response cache. Without it every call goes to the wire.
func WithCache(c *cache.ResponseCache) Option {
	return func(a *Adapter) { a.cache = c }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithBreaker enables a circuit breaker around the wire call.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(a *Adapter) {
		if settings.Name == "" {
			settings.Name = a.name
		}
		a.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter creates a provider adapter on top of a shared pool.
func NewAdapter(name string, pool *httppool.Pool, opts ...Option) *Adapter {
	a := &Adapter{
		name:   name,
		pool:   pool,
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider name.
func (a *Adapter) Name() string { return a.name }

// Health reports the adapter's circuit state: "ok" when no breaker is
// configured, otherwise the breaker state (closed, half-open, open).
func (a *Adapter) Health() string {
	if a.breaker == nil {
		return "ok"
	}
	return a.breaker.State().String()
}

// Request performs the call: cache lookup, then retry-wrapped pooled HTTP,
// then cache insert on success.
func (a *Adapter) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}

	a.logger.DebugContext(ctx, "provider request", "provider", a.name,
		"method", spec.Method, "url", spec.URL, "force_refresh", spec.ForceRefresh)

	var key string
	if a.cache != nil && !spec.NoCache {
		key = cache.ResponseKey(spec.Method, spec.URL, spec.Params, spec.Headers)
		if !spec.ForceRefresh {
			if entry, ok := a.cache.Get(ctx, spec.TenantID, key); ok {
				metrics.CacheLookups.WithLabelValues("response", "hit").Inc()
				a.logger.DebugContext(ctx, "provider cache hit", "provider", a.name, "url", spec.URL)
				return &Response{StatusCode: entry.StatusCode, Data: entry.Data, FromCache: true}, nil
			}
			metrics.CacheLookups.WithLabelValues("response", "miss").Inc()
		}
	}

	started := time.Now()
	var resp *Response
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		r, err := a.roundTrip(ctx, spec)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	metrics.ProviderDuration.WithLabelValues(a.name).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ProviderRequests.WithLabelValues(a.name, "error").Inc()
		a.logger.WarnContext(ctx, "provider request failed", "provider", a.name,
			"url", spec.URL, "error", err)
		return nil, fmt.Errorf("%s request: %w", a.name, err)
	}
	metrics.ProviderRequests.WithLabelValues(a.name, "ok").Inc()

	if a.cache != nil && !spec.NoCache {
		a.cache.Put(ctx, &cache.Entry{
			Key:        key,
			Method:     spec.Method,
			URL:        spec.URL,
			Params:     spec.Params,
			Headers:    spec.Headers,
			StatusCode: resp.StatusCode,
			Data:       resp.Data,
			TenantID:   spec.TenantID,
		}, spec.CacheTTL)
	}

	a.logger.DebugContext(ctx, "provider response", "provider", a.name,
		"url", spec.URL, "status", resp.StatusCode, "bytes", len(resp.Data),
		"duration_ms", time.Since(started).Milliseconds())
	return resp, nil
}

// roundTrip performs one attempt: acquire a pool handle, send, classify.
func (a *Adapter) roundTrip(ctx context.Context, spec RequestSpec) (*Response, error) {
	do := func() (*Response, error) {
		handle, err := a.pool.Acquire()
		if err != nil {
			return nil, err
		}
		defer handle.Release()

		req, err := a.buildRequest(ctx, spec)
		if err != nil {
			return nil, err
		}

		httpResp, err := handle.Do(req)
		if err != nil {
			// Network failures (timeouts, resets) are retryable.
			return nil, retry.Retryable(fmt.Errorf("send request: %w", err))
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
		}

		if err := retry.FromStatus(httpResp.StatusCode, truncate(body, 512)); err != nil {
			return nil, err
		}
		return &Response{StatusCode: httpResp.StatusCode, Data: body}, nil
	}

	if a.breaker == nil {
		return do()
	}

	result, err := a.breaker.Execute(func() (any, error) {
		return do()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, retry.Retryable(fmt.Errorf("%s circuit open: %w", a.name, err))
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (a *Adapter) buildRequest(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(spec.Params) > 0 {
		q := u.Query()
		for k, v := range spec.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if len(spec.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
