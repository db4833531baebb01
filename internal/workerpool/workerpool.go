// Package workerpool implements the bounded pool of goroutines that run
// Annotator invocations on behalf of connected sessions: a fixed number of
// workers drain a shared job queue, each admission optionally gated by a
// golang.org/x/time/rate limiter, so one burst of active sessions cannot
// starve the others or overrun a slow model backend. Grounded on the
// teacher's src/pipeline/task.go channel-dispatch-plus-WaitGroup shape,
// generalized from one pipeline's frame queue to a shared cross-session
// job queue, and on nishisan-dev-n-backup's ThrottledWriter use of
// golang.org/x/time/rate for admission control.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/blobfish-labs/infsrv/internal/logger"
)

// Job is a unit of work submitted to the pool, typically one Annotator
// call for one window of one session.
type Job func(ctx context.Context) error

type request struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Pool is a fixed-size worker pool with optional rate-limited admission.
type Pool struct {
	requests chan request
	wg       sync.WaitGroup
	limiter  *rate.Limiter
	log      *logger.Logger

	closeOnce sync.Once
}

// New starts a Pool with the given number of workers. If limiter is
// non-nil, each job waits for a token before running, throttling the rate
// at which queued jobs are admitted regardless of how many sessions are
// submitting concurrently. workers must be >= 1.
func New(workers int, limiter *rate.Limiter) *Pool {
	if workers < 1 {
		panic("workerpool: workers must be >= 1")
	}

	p := &Pool{
		requests: make(chan request, workers*4),
		limiter:  limiter,
		log:      logger.WithPrefix("workerpool"),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	p.log.Info("started %d workers", workers)
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()

	for req := range p.requests {
		if p.limiter != nil {
			if err := p.limiter.Wait(req.ctx); err != nil {
				req.done <- fmt.Errorf("workerpool: admission throttle: %w", err)
				continue
			}
		}
		req.done <- req.fn(req.ctx)
	}
}

// Submit enqueues fn and blocks until it has run (or ctx is canceled while
// waiting), returning fn's error. Safe to call concurrently from multiple
// sessions; each session should serialize its own Submit calls since
// Annotator implementations are not required to support concurrent use.
func (p *Pool) Submit(ctx context.Context, fn Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	select {
	case p.requests <- request{ctx: ctx, fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new jobs and blocks until all workers have
// drained the queue and exited. Submit must not be called after Close.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.requests)
	})
	p.wg.Wait()
}
