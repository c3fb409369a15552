package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestIntervalClamp(t *testing.T) {
	s := New(Options{Interval: time.Second}, noopLogger())
	if s.opts.Interval != MinInterval {
		t.Fatalf("sub-minute interval must clamp to %s, got %s", MinInterval, s.opts.Interval)
	}

	s = New(Options{Interval: time.Hour}, noopLogger())
	if s.opts.Interval != time.Hour {
		t.Fatalf("valid interval must be kept, got %s", s.opts.Interval)
	}
}

func TestRunFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour}, noopLogger())

	fired := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			close(fired)
			return nil
		})
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick should fire immediately")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestFireSkipsOverlap(t *testing.T) {
	s := New(Options{Interval: time.Hour}, noopLogger())

	var started atomic.Int32
	release := make(chan struct{})
	running := make(chan struct{})
	tick := func(ctx context.Context) error {
		started.Add(1)
		close(running)
		<-release
		return nil
	}

	s.fire(context.Background(), tick)
	<-running
	s.fire(context.Background(), tick) // in flight, must skip
	close(release)

	deadline := time.After(2 * time.Second)
	for s.inFlight.Load() {
		select {
		case <-deadline:
			t.Fatal("tick never finished")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if got := started.Load(); got != 1 {
		t.Fatalf("overlapping fire must be skipped, got %d runs", got)
	}
}

func TestMarketOpenGate(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Options{Interval: time.Hour, Location: manila, OpenHour: 9, CloseHour: 16}, noopLogger())

	// 10:00 Manila is open, 20:00 is closed. Manila is UTC+8 year-round.
	open := time.Date(2025, 1, 10, 2, 0, 0, 0, time.UTC)
	closed := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	if !s.marketOpen(open) {
		t.Fatal("10:00 Manila should be inside market hours")
	}
	if s.marketOpen(closed) {
		t.Fatal("20:00 Manila should be outside market hours")
	}

	// No location disables the gate entirely.
	s = New(Options{Interval: time.Hour}, noopLogger())
	if !s.marketOpen(closed) {
		t.Fatal("gate must be disabled without a location")
	}
}
