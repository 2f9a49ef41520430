package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"listbridge/internal/app/config"
)

type Runner interface {
	Run(ctx context.Context)
}

type scheduler interface {
	ScheduleWithCtx(context.Context, schedulerSettings) error
	Stop()
}

// Daemon drives the polling loop: it schedules the runner at the
// configured interval and blocks until the context is canceled.
type Daemon struct {
	cfg       config.Config
	scheduler scheduler
	runner    Runner
	logger    *slog.Logger
}

func NewDaemon(
	cfg config.Config,
	scheduler scheduler,
	runner Runner,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		cfg:       cfg,
		scheduler: scheduler,
		runner:    runner,
		logger:    logger,
	}
}

// Start launches the scheduler and performs an inbox pass on every
// tick. Each pass runs under its own timeout so a stalled mail server
// cannot hold the loop forever. Returns when the context is canceled
// or the scheduler fails to launch.
func (d *Daemon) Start(ctx context.Context) error {
	err := d.scheduler.ScheduleWithCtx(ctx, schedulerSettings{
		LaunchInitially: true,
		Interval:        d.cfg.PollInterval,
		Callback: func() {
			tctx, cancel := context.WithTimeout(ctx, d.cfg.PollCycleTimeout)
			defer cancel()

			d.runner.Run(tctx)
		},
	})
	if err != nil {
		return fmt.Errorf("error occurred while launching the scheduler: %w", err)
	}
	defer d.scheduler.Stop()

	<-ctx.Done()
	return ctx.Err()
}
