// Package worker runs engine transitions as non-overlapping jobs on one goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relief-service/internal/logging"
)

// Job is one unit of work executed by an Executor.
type Job func(ctx context.Context) error

// Executor runs jobs. Do waits for the result; Submit is fire-and-forget.
type Executor interface {
	Do(ctx context.Context, job Job) error
	Submit(name string, job Job)
}

var ErrStopped = errors.New("executor stopped")

type queued struct {
	name string
	ctx  context.Context
	job  Job
	done chan error
}

// Serial executes queued jobs one at a time in arrival order.
type Serial struct {
	logger *logging.Logger
	jobs   chan queued
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func NewSerial(logger *logging.Logger, queueSize int) *Serial {
	ctx, cancel := context.WithCancel(context.Background())
	return &Serial{
		logger: logger,
		jobs:   make(chan queued, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutine.
func (s *Serial) Start(wg *sync.WaitGroup) {
	s.wg = wg
	s.wg.Add(1)
	go s.worker()
}

// Stop cancels the worker. Jobs still queued are dropped.
func (s *Serial) Stop() {
	s.cancel()
}

// Do enqueues job and blocks until it has run or ctx is done.
func (s *Serial) Do(ctx context.Context, job Job) error {
	q := queued{name: "request", ctx: ctx, job: job, done: make(chan error, 1)}
	select {
	case s.jobs <- q:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Submit enqueues job without waiting. A full queue drops the job.
func (s *Serial) Submit(name string, job Job) {
	select {
	case s.jobs <- queued{name: name, ctx: s.ctx, job: job}:
		s.logger.Debugf("Queued job %s", name)
	default:
		s.logger.Errorf("Queue full, dropping job %s", name)
	}
}

func (s *Serial) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Serial worker stopped")
			return
		case q := <-s.jobs:
			err := s.run(q)
			if q.done != nil {
				q.done <- err
			} else if err != nil {
				s.logger.Errorf("Job %s failed: %v", q.name, err)
			}
		}
	}
}

func (s *Serial) run(q queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", q.name, r)
		}
	}()
	return q.job(q.ctx)
}

// Inline runs jobs immediately on the caller's goroutine.
type Inline struct {
	Logger *logging.Logger
}

func (Inline) Do(ctx context.Context, job Job) error {
	return job(ctx)
}

func (i Inline) Submit(name string, job Job) {
	if err := job(context.Background()); err != nil && i.Logger != nil {
		i.Logger.Errorf("Job %s failed: %v", name, err)
	}
}
