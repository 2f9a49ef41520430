package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listbridge/internal/app/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSchedulerRejectsInvalidSettings(t *testing.T) {
	var s Scheduler

	err := s.ScheduleWithCtx(t.Context(), schedulerSettings{Interval: 0, Callback: func() {}})
	assert.Error(t, err)

	err = s.ScheduleWithCtx(t.Context(), schedulerSettings{Interval: time.Second})
	assert.Error(t, err)
}

func TestSchedulerRunsCallbackOnTicks(t *testing.T) {
	var s Scheduler
	var calls atomic.Int64

	err := s.ScheduleWithCtx(t.Context(), schedulerSettings{
		Interval:        5 * time.Millisecond,
		LaunchInitially: true,
		Callback:        func() { calls.Add(1) },
	})
	require.NoError(t, err)
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestSchedulerStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	var s Scheduler
	var calls atomic.Int64

	err := s.ScheduleWithCtx(ctx, schedulerSettings{
		Interval: time.Millisecond,
		Callback: func() { calls.Add(1) },
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	cancel()

	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), settled+1)
}

type countingRunner struct {
	calls atomic.Int64
}

func (r *countingRunner) Run(context.Context) { r.calls.Add(1) }

func TestDaemonRunsPollerUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	runner := &countingRunner{}
	d := NewDaemon(config.Config{
		PollInterval:     5 * time.Millisecond,
		PollCycleTimeout: time.Second,
	}, &Scheduler{}, runner, testLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop after context cancellation")
	}
}

func TestDaemonRejectsInvalidInterval(t *testing.T) {
	d := NewDaemon(config.Config{}, &Scheduler{}, &countingRunner{}, testLogger())
	assert.Error(t, d.Start(t.Context()))
}
