package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool runs background tasks on a bounded number of goroutines and drains
// them on shutdown.
type Pool struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewPool creates a pool running at most size tasks at once. A size below 1
// means one.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		slots:  make(chan struct{}, size),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit schedules task and reports false if the pool is already shut down.
func (p *Pool) Submit(task func(ctx context.Context)) bool {
	return p.SubmitWithTimeout(0, task)
}

// SubmitWithTimeout is Submit with a per-task deadline. Zero means none.
func (p *Pool) SubmitWithTimeout(timeout time.Duration, task func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.slots <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.slots }()

		ctx := p.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(p.ctx, timeout)
			defer cancel()
		}
		task(ctx)
	}()
	return true
}

// Context returns the pool's context
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Shutdown stops accepting tasks, waits up to timeout for running ones and
// then cancels the pool context.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.logger.Info("🛑 [Worker] Initiating graceful shutdown...")

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("✅ [Worker] All background tasks completed")
	case <-time.After(timeout):
		p.logger.Warn("⚠️ [Worker] Shutdown timeout exceeded, some tasks may not have completed",
			"timeout", timeout,
		)
	}
	p.cancel()
}
