// Package offload runs blocking I/O and CPU-heavy work on bounded worker
// pools, carrying the caller's trace context into the pooled goroutine.
package offload

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/leadfoundry/enrichworker/trace"
)

// ioPoolSize bounds concurrent blocking I/O. Matches the common executor
// sizing rule for I/O-bound work: ten workers per core, capped at 32.
func ioPoolSize() int {
	n := runtime.NumCPU() * 10
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pools holds the two bounded executors. The I/O pool is sized for blocking
// calls; the CPU pool is sized to the core count for parsing and transform
// work.
type Pools struct {
	io  *semaphore.Weighted
	cpu *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ErrShutdown is returned for work submitted after Shutdown.
var ErrShutdown = fmt.Errorf("offload pools are shut down")

// New creates the pools. ioSize and cpuSize override the defaults when
// positive.
func New(ioSize, cpuSize int) *Pools {
	if ioSize <= 0 {
		ioSize = ioPoolSize()
	}
	if cpuSize <= 0 {
		cpuSize = runtime.NumCPU()
		if cpuSize < 1 {
			cpuSize = 1
		}
	}
	return &Pools{
		io:  semaphore.NewWeighted(int64(ioSize)),
		cpu: semaphore.NewWeighted(int64(cpuSize)),
	}
}

// RunIO executes fn on the I/O pool and blocks until it returns. The
// caller's trace context is restored inside the pooled frame.
func (p *Pools) RunIO(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.run(ctx, p.io, fn)
}

// RunCPU executes fn on the CPU pool and blocks until it returns.
func (p *Pools) RunCPU(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.run(ctx, p.cpu, fn)
}

func (p *Pools) run(ctx context.Context, sem *semaphore.Weighted, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	snap := trace.Capture(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(trace.Restore(ctx, snap))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs fn on the I/O pool without waiting for the result. Used for
// fire-and-forget work like cache warming.
func (p *Pools) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.io.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}

	trace.Go(ctx, func(runCtx context.Context) {
		defer p.wg.Done()
		defer p.io.Release(1)
		fn(runCtx)
	})
	return nil
}

// Shutdown stops accepting work and waits for in-flight work to drain.
func (p *Pools) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
