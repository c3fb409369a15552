// Package sync reconciles the local daily rate history against the external
// forex API: fetching, idempotent upserts keyed by date, calendar gap
// filling, and moving-average recomputation.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pesowatch/internal/analytics"
	"pesowatch/internal/forex"
	"pesowatch/internal/storage"
)

// Locker guards synchronizer runs across processes. Matches the advisory
// lock helper on storage.Store.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ErrLockHeld is returned when another synchronizer run holds the lock; the
// caller should skip, not fail.
var ErrLockHeld = fmt.Errorf("sync: already running elsewhere")

// Status is a snapshot of the most recent synchronization outcome. The
// background loop records failures here instead of swallowing them.
type Status struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Synchronizer keeps the local rate history consistent with the upstream
// provider on a best-effort basis.
type Synchronizer struct {
	provider forex.Provider
	rates    storage.RateStore
	locker   Locker
	lockKey  int64
	logger   zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New constructs a Synchronizer. locker may be nil (no cross-process guard)
// and lockKey zero disables locking, mirroring how the store is optional in
// dry runs.
func New(provider forex.Provider, rates storage.RateStore, locker Locker, lockKey int64, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		rates:    rates,
		locker:   locker,
		lockKey:  lockKey,
		logger:   logger.With().Str("component", "sync").Logger(),
	}
}

// Status returns a copy of the latest sync outcome.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.status.LastAttempt = now
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastSuccess = now
	s.status.LastError = ""
}

// SyncLatest fetches today's rate, upserts it, and recomputes the moving
// averages on the newest record.
func (s *Synchronizer) SyncLatest(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		rate, err := s.provider.Latest(ctx)
		if err != nil {
			return fmt.Errorf("fetch latest rate: %w", err)
		}

		rec := storage.RateRecord{
			Date:        rate.Date,
			USDPHPRate:  rate.USDPHP,
			DollarIndex: rate.DollarIndex,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.rates.Upsert(ctx, []storage.RateRecord{rec}); err != nil {
			return err
		}

		s.logger.Info().Str("date", rec.Date.Format(storage.DateLayout)).
			Str("rate", rec.USDPHPRate.String()).Msg("latest rate synced")

		return s.recomputeMovingAverages(ctx)
	})
}

// SyncRange fetches rates for the inclusive range and upserts whatever the
// provider returned. Safe to call repeatedly with overlapping ranges: the
// upsert is keyed by date and last write wins.
func (s *Synchronizer) SyncRange(ctx context.Context, from, to time.Time) (int, error) {
	count := 0
	err := s.withLock(ctx, func(ctx context.Context) error {
		rates, err := s.provider.Range(ctx, from, to)
		if err != nil {
			return fmt.Errorf("fetch rate range: %w", err)
		}

		now := time.Now().UTC()
		records := make([]storage.RateRecord, 0, len(rates))
		for _, rate := range rates {
			records = append(records, storage.RateRecord{
				Date:        rate.Date,
				USDPHPRate:  rate.USDPHP,
				DollarIndex: rate.DollarIndex,
				CreatedAt:   now,
			})
		}

		if err := s.rates.Upsert(ctx, records); err != nil {
			return err
		}
		count = len(records)

		s.logger.Info().Int("records", count).
			Str("from", from.Format(storage.DateLayout)).
			Str("to", to.Format(storage.DateLayout)).Msg("rate range synced")

		return s.recomputeMovingAverages(ctx)
	})
	return count, err
}

// BackfillGaps loads stored history for the range (plus the nearest earlier
// record as a carry-forward seed), fills missing calendar days, and writes
// the synthetic records back.
func (s *Synchronizer) BackfillGaps(ctx context.Context, from, to time.Time) (int, error) {
	filled := 0
	err := s.withLock(ctx, func(ctx context.Context) error {
		history, err := s.rates.Between(ctx, from, to)
		if err != nil {
			return err
		}

		seed, err := s.rates.EarlierThan(ctx, from)
		switch {
		case err == nil:
			history = append([]storage.RateRecord{seed}, history...)
		case storage.IsNoRows(err):
			// no seed; leading gap days stay unfilled
		default:
			return err
		}

		complete := FillGaps(history, from, to)

		synthetic := make([]storage.RateRecord, 0)
		for _, rec := range complete {
			if rec.Synthetic {
				synthetic = append(synthetic, rec)
			}
		}
		if len(synthetic) == 0 {
			return nil
		}

		if err := s.rates.Upsert(ctx, synthetic); err != nil {
			return err
		}
		filled = len(synthetic)

		s.logger.Info().Int("filled", filled).
			Str("from", from.Format(storage.DateLayout)).
			Str("to", to.Format(storage.DateLayout)).Msg("calendar gaps filled")

		return s.recomputeMovingAverages(ctx)
	})
	return filled, err
}

// RecomputeMovingAverages recomputes MA20/MA50 from the newest stored
// records and writes them onto the single most recent record.
func (s *Synchronizer) RecomputeMovingAverages(ctx context.Context) error {
	return s.withLock(ctx, s.recomputeMovingAverages)
}

func (s *Synchronizer) recomputeMovingAverages(ctx context.Context) error {
	records, err := s.rates.Recent(ctx, analytics.WindowLong)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	values := make([]decimal.Decimal, len(records))
	for i, rec := range records {
		values[i] = rec.USDPHPRate
	}

	ma20 := analytics.MovingAverage(values, analytics.WindowShort)
	ma50 := analytics.MovingAverage(values, analytics.WindowLong)

	if err := s.rates.SetMovingAverages(ctx, records[0].Date, &ma20, &ma50); err != nil {
		return fmt.Errorf("write moving averages: %w", err)
	}

	s.logger.Debug().Str("date", records[0].Date.Format(storage.DateLayout)).
		Str("ma20", ma20.String()).Str("ma50", ma50.String()).Msg("moving averages recomputed")
	return nil
}

// withLock runs fn under the advisory lock, skipping with ErrLockHeld when
// another process already holds it. Every entry point records its outcome in
// the status snapshot.
func (s *Synchronizer) withLock(ctx context.Context, fn func(context.Context) error) error {
	if s.locker != nil && s.lockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			s.record(err)
			return fmt.Errorf("acquire sync lock: %w", err)
		}
		if !acquired {
			s.logger.Debug().Msg("sync lock held elsewhere, skipping")
			return ErrLockHeld
		}
		defer unlock()
	}

	err := fn(ctx)
	s.record(err)
	return err
}
