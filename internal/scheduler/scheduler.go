package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"perpbot/internal/logger"
)

// FatalError stops the task that returned it. Any other error is logged and
// the task runs again on its next tick.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal task error"
	}
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Scheduler runs one task on its own timer. With Align set, ticks land on
// wall-clock multiples of Interval plus Offset, the way candle closes do.
type Scheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Align          bool
	RunImmediately bool

	nowFn func() time.Time
}

func Every(name string, interval time.Duration) *Scheduler {
	return &Scheduler{Name: name, Interval: interval, RunImmediately: true, nowFn: time.Now}
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *Scheduler {
	return &Scheduler{Name: name, Interval: interval, Offset: offset, Align: true, nowFn: time.Now}
}

// Run blocks until ctx is done or the task returns a FatalError.
func (s *Scheduler) Run(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("scheduler %s: nil task", s.Name)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval=%s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("[scheduler] %s negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("[scheduler] %s started interval=%s offset=%s align=%v run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.Align, s.RunImmediately)

	if s.RunImmediately {
		if err := s.runOnce(ctx, task); err != nil {
			return err
		}
	}
	for {
		wait := s.nextWait(s.nowFn())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("[scheduler] %s ctx done, exit", s.Name)
			return nil
		case <-timer.C:
		}
		if err := s.runOnce(ctx, task); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[scheduler] %s panic: %v\n%s", s.Name, r, debug.Stack())
			err = nil
		}
	}()
	taskErr := task(ctx)
	if taskErr == nil {
		return nil
	}
	var fatal *FatalError
	if errors.As(taskErr, &fatal) {
		logger.Errorf("[scheduler] %s stopped: %v", s.Name, taskErr)
		return taskErr
	}
	if ctx.Err() == nil {
		logger.Warnf("[scheduler] %s tick failed: %v", s.Name, taskErr)
	}
	return nil
}

func (s *Scheduler) nextWait(now time.Time) time.Duration {
	if !s.Align {
		return s.Interval
	}
	now = now.UTC()
	next := now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
	if wait := next.Sub(now); wait > 0 {
		return wait
	}
	return 0
}
