package daemon

import (
	"context"
	"errors"
	"time"
)

// Scheduler invokes a callback at a fixed interval until stopped or
// the context is done.
type Scheduler struct {
	quit chan struct{}
}

type schedulerSettings struct {
	Callback        func()
	Interval        time.Duration
	LaunchInitially bool // run the callback once before the first tick
}

// ScheduleWithCtx validates the settings and starts the ticker loop in
// a separate goroutine. Returns an error only for invalid settings.
func (s *Scheduler) ScheduleWithCtx(ctx context.Context, settings schedulerSettings) error {
	if settings.Interval <= 0 {
		return errors.New("interval must be larger than 0")
	}
	if settings.Callback == nil {
		return errors.New("callback is nil")
	}

	s.quit = make(chan struct{})
	go s.runSchedule(ctx, settings)
	return nil
}

func (s *Scheduler) runSchedule(ctx context.Context, settings schedulerSettings) {
	if settings.LaunchInitially {
		settings.Callback()
	}

	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			settings.Callback()
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the ticker loop.
func (s *Scheduler) Stop() {
	close(s.quit)
}
