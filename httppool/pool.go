// Package httppool shares a bounded set of keep-alive HTTP connections
// across concurrent callers. Acquisition fails fast when the pool is
// exhausted; the failure is classified retryable so callers under a retry
// wrapper back off instead of piling on.
package httppool

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/leadfoundry/enrichworker/retry"
)

// ErrPoolExhausted is returned (wrapped retryable) when the in-flight count
// would exceed the configured maximum.
var ErrPoolExhausted = errors.New("http pool exhausted")

// ErrPoolClosed is returned by Do on a released handle.
var ErrPoolClosed = errors.New("handle already released")

// Config sizes the pool.
type Config struct {
	// MaxConnections bounds concurrent in-flight requests.
	MaxConnections int

	// MaxKeepalive bounds idle keep-alive connections.
	MaxKeepalive int

	// KeepaliveExpiry is how long idle connections are kept.
	KeepaliveExpiry time.Duration

	// RequestTimeout is the per-request wall clock budget.
	RequestTimeout time.Duration
}

// DefaultConfig returns pool defaults suited to external provider traffic.
func DefaultConfig() Config {
	return Config{
		MaxConnections:  100,
		MaxKeepalive:    20,
		KeepaliveExpiry: 30 * time.Second,
		RequestTimeout:  60 * time.Second,
	}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be >= 1, got %d", c.MaxConnections)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout)
	}
	return nil
}

// Pool is a bounded HTTP client pool. The mutex guards the in-flight counter
// and client lifecycle; the HTTP traffic itself runs in parallel.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	client   *http.Client
	inflight int
}

// New creates a pool. The underlying client is opened lazily on first
// Acquire.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	return &Pool{cfg: cfg}, nil
}

// newClient builds the shared keep-alive client.
func (p *Pool) newClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        p.cfg.MaxKeepalive,
		MaxIdleConnsPerHost: p.cfg.MaxKeepalive,
		MaxConnsPerHost:     p.cfg.MaxConnections,
		IdleConnTimeout:     p.cfg.KeepaliveExpiry,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.cfg.RequestTimeout,
	}
}

// Acquire reserves an in-flight slot and returns a handle bound to the
// shared client. Fails fast with a retryable ErrPoolExhausted when the pool
// is saturated. Release the handle on all exit paths.
func (p *Pool) Acquire() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inflight >= p.cfg.MaxConnections {
		return nil, retry.Retryable(fmt.Errorf("%w: %d in flight", ErrPoolExhausted, p.inflight))
	}
	if p.client == nil {
		// Reconnect on demand after Close.
		p.client = p.newClient()
	}
	p.inflight++
	return &Handle{pool: p, client: p.client}, nil
}

// release returns a slot. Unconditional; called exactly once per handle.
func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight > 0 {
		p.inflight--
	}
}

// InFlight returns the current in-flight count.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Close drops the underlying client and its idle connections. A subsequent
// Acquire opens a fresh client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
		p.client = nil
	}
}

// Handle is a scoped acquisition of the pooled client.
type Handle struct {
	pool     *Pool
	client   *http.Client
	released sync.Once
	closed   bool
}

// Do performs the request with the pool's timeout.
func (h *Handle) Do(req *http.Request) (*http.Response, error) {
	if h.closed {
		return nil, ErrPoolClosed
	}
	return h.client.Do(req)
}

// Release returns the slot to the pool. Safe to call more than once.
func (h *Handle) Release() {
	h.released.Do(func() {
		h.closed = true
		h.pool.release()
	})
}
