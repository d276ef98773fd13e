package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every minute boundary. The tick time is truncated
// to the minute so downstream trigger checks see a stable clock value.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
}

// Scheduler wakes on minute boundaries and hands each tick to the monitor.
// The decision whether a tick starts an evaluation cycle lives with the
// trigger gate, not here.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function on each minute boundary until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := nextMinute(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = nextMinute(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next minute")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		minute := next.Truncate(time.Minute)
		if err := tick(ctx, minute); err != nil {
			s.logger.Error().Err(err).Time("tick", minute).Msg("tick execution failed")
		}

		next = next.Add(time.Minute)
	}
}

func nextMinute(now time.Time) time.Time {
	minute := now.Truncate(time.Minute)
	if !minute.After(now) {
		minute = minute.Add(time.Minute)
	}
	return minute
}
