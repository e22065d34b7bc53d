package service

import (
	"context"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("worker closed")

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Worker runs submitted jobs one at a time on a single goroutine, so a store
// write and the reminder change that follows it are never interleaved with
// another job.
type Worker struct {
	jobs chan job
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func NewWorker(queue int) *Worker {
	w := &Worker{
		jobs: make(chan job, queue),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			j.result <- j.fn(j.ctx)
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case j := <-w.jobs:
			j.result <- ErrWorkerClosed
		default:
			return
		}
	}
}

// Do queues fn and waits for its result. If ctx ends first, Do returns the
// context error; a job that was already queued still runs.
func (w *Worker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: context.WithoutCancel(ctx), fn: fn, result: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-w.done:
		select {
		case err := <-j.result:
			return err
		default:
			return ErrWorkerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after the job in progress. Queued jobs fail with
// ErrWorkerClosed.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
