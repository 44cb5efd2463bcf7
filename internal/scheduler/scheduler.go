// Package scheduler runs periodic tasks aligned to interval boundaries.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"kortrade/internal/middleware"
)

// Task는 스케줄러가 실행할 작업입니다.
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (f TaskFunc) Name() string                      { return f.TaskName }
func (f TaskFunc) Execute(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler는 interval 경계(UTC 기준)마다 작업을 실행합니다.
// 8h 간격이면 00:00, 08:00, 16:00 UTC에 실행됩니다.
type Scheduler struct {
	interval time.Duration
	task     Task
	now      func() time.Time
	stopCh   chan struct{}
	logger   *slog.Logger
}

// NewScheduler는 새로운 스케줄러를 생성합니다.
func NewScheduler(interval time.Duration, task Task) *Scheduler {
	return &Scheduler{
		interval: interval,
		task:     task,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		logger:   middleware.Component("scheduler").With("task", task.Name()),
	}
}

// NextRun returns the first interval boundary strictly after now.
func NextRun(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Start blocks until ctx is cancelled or Stop is called. A failing run is
// logged and the schedule continues.
func (s *Scheduler) Start(ctx context.Context) error {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.stopCh:
			return nil

		case <-timer.C:
			start := s.now()
			if err := s.task.Execute(ctx); err != nil {
				s.logger.Error("작업 실행 실패", slog.String("error", err.Error()))
			} else {
				s.logger.Info("작업 완료", slog.Duration("took", s.now().Sub(start)))
			}
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) untilNext() time.Duration {
	now := s.now()
	next := NextRun(now, s.interval)
	wait := next.Sub(now)
	s.logger.Info("다음 실행 대기",
		slog.Duration("wait", wait.Round(time.Second)),
		slog.String("next_run", next.UTC().Format(time.RFC3339)))
	return wait
}

// Stop은 스케줄러를 중지합니다. 한 번만 호출해야 합니다.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}
