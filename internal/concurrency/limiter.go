// Package concurrency provides a bounded-concurrency primitive for fanning
// out independent outbound calls without running them all unbounded in
// parallel. Its one caller is the IAM sync (C8), which bounds its per-user
// IAM HTTP requests with it; the directory and scheduler reconcilers run
// sequentially and do not use it.
package concurrency

import "context"

// Limiter caps the number of concurrently in-flight units of work using a
// buffered channel as a semaphore — the same shape the teacher's worker
// pools use for bounding outbound agent dispatch.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter returns a Limiter allowing at most n concurrent Acquire holders.
// n <= 0 means unlimited (Acquire/Release become no-ops).
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return &Limiter{}
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired by Acquire.
func (l *Limiter) Release() {
	if l.sem == nil {
		return
	}
	<-l.sem
}

// Run runs fn with a slot held, blocking on Acquire first.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
