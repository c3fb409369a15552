package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context) error

// MinInterval is the floor applied to configured intervals. Zero or negative
// intervals would spin against the upstream API.
const MinInterval = time.Minute

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration

	// Market-hours gate: ticks outside [OpenHour, CloseHour) in Location are
	// skipped. Disabled when Location is nil.
	Location  *time.Location
	OpenHour  int
	CloseHour int
}

// Scheduler drives periodic execution of the rate refresh. A tick that is
// still running when the next interval fires causes the new tick to be
// skipped rather than overlapped.
type Scheduler struct {
	opts     Options
	logger   zerolog.Logger
	inFlight atomic.Bool
}

// New constructs a Scheduler, clamping the interval to MinInterval.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval < MinInterval {
		opts.Interval = MinInterval
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. Tick errors are logged, never propagated; the loop only stops
// with the context.
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

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.fire(ctx, tick)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fire(ctx, tick)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc) {
	if !s.marketOpen(time.Now()) {
		s.logger.Debug().Msg("market closed, skipping tick")
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous tick still in flight, skipping")
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		if err := tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("tick execution failed")
		}
	}()
}

func (s *Scheduler) marketOpen(now time.Time) bool {
	if s.opts.Location == nil {
		return true
	}
	hour := now.In(s.opts.Location).Hour()
	return hour >= s.opts.OpenHour && hour < s.opts.CloseHour
}
