// Package sweep expires overdue help tickets and tasks on a schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"relief-service/internal/logging"
	"relief-service/internal/metrics"
	"relief-service/internal/models"
	"relief-service/internal/worker"
)

type TicketExpirer interface {
	Overdue(ctx context.Context) ([]models.HelpTicket, error)
	Expire(ctx context.Context, t models.HelpTicket) (bool, error)
}

type TaskExpirer interface {
	Overdue(ctx context.Context) ([]models.Task, error)
	Expire(ctx context.Context, t models.Task) (bool, error)
}

// Summary counts what one sweep did.
type Summary struct {
	TicketsExpired int `json:"tickets_expired"`
	TasksExpired   int `json:"tasks_expired"`
	Failures       int `json:"failures"`
}

type Sweeper struct {
	tickets  TicketExpirer
	tasks    TaskExpirer
	exec     worker.Executor
	logger   *logging.Logger
	interval time.Duration
	cron     *cron.Cron
}

func New(tickets TicketExpirer, tasks TaskExpirer, exec worker.Executor, logger *logging.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		tickets:  tickets,
		tasks:    tasks,
		exec:     exec,
		logger:   logger,
		interval: interval,
	}
}

// Run performs one sweep on the executor and waits for it.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		sum = s.sweep(ctx)
		return nil
	})
	return sum, err
}

// sweep expires each overdue entity independently. A failure is logged and
// the entity is picked up again next cycle.
func (s *Sweeper) sweep(ctx context.Context) Summary {
	var sum Summary

	tickets, err := s.tickets.Overdue(ctx)
	if err != nil {
		s.logger.Errorf("Sweep failed to list overdue tickets: %v", err)
		sum.Failures++
	}
	for _, t := range tickets {
		expired, err := s.tickets.Expire(ctx, t)
		if err != nil {
			s.logger.Errorf("Sweep failed to expire ticket %s: %v", t.ID, err)
			sum.Failures++
			continue
		}
		if expired {
			sum.TicketsExpired++
		}
	}

	tasks, err := s.tasks.Overdue(ctx)
	if err != nil {
		s.logger.Errorf("Sweep failed to list overdue tasks: %v", err)
		sum.Failures++
	}
	for _, t := range tasks {
		expired, err := s.tasks.Expire(ctx, t)
		if err != nil {
			s.logger.Errorf("Sweep failed to expire task %s: %v", t.ID, err)
			sum.Failures++
			continue
		}
		if expired {
			sum.TasksExpired++
		}
	}

	metrics.ExpiredTotal.WithLabelValues("ticket").Add(float64(sum.TicketsExpired))
	metrics.ExpiredTotal.WithLabelValues("task").Add(float64(sum.TasksExpired))
	metrics.SweepFailuresTotal.Add(float64(sum.Failures))
	if sum.TicketsExpired+sum.TasksExpired+sum.Failures > 0 {
		s.logger.Infof("Sweep done: tickets_expired=%d tasks_expired=%d failures=%d", sum.TicketsExpired, sum.TasksExpired, sum.Failures)
	}
	return sum
}

func (s *Sweeper) submit() {
	s.exec.Submit("sweep", func(ctx context.Context) error {
		s.sweep(ctx)
		return nil
	})
}

// Start queues an immediate sweep to catch items that expired while the
// process was down, then schedules one every interval.
func (s *Sweeper) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", s.interval)
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.submit); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.submit()
	s.cron.Start()
	s.logger.Infof("Sweep scheduled every %s", s.interval)
	return nil
}

// Stop halts the schedule and waits for a running trigger to return.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
