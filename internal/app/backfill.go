package app

import (
	"context"
	"errors"

	"pesowatch/internal/storage"
	ratesync "pesowatch/internal/sync"
)

// Backfill syncs a historical date range from the upstream provider and
// optionally fills the remaining calendar gaps with carried-forward rates.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := storage.Day(opts.From)
	to := storage.Day(opts.To)
	if to.Before(from) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: fetching only, nothing will be written")
		rates, err := a.newProvider().Range(ctx, from, to)
		if err != nil {
			return err
		}
		a.Logger.Info().Int("records", len(rates)).Msg("dry-run fetch complete")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	syncer := a.newSynchronizer(store)

	synced, err := syncer.SyncRange(ctx, from, to)
	if errors.Is(err, ratesync.ErrLockHeld) {
		a.Logger.Warn().Msg("another sync is running, backfill skipped")
		return nil
	}
	if err != nil {
		return err
	}

	filled := 0
	if opts.FillGaps {
		if filled, err = syncer.BackfillGaps(ctx, from, to); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("synced", synced).Int("filled", filled).Msg("backfill complete")
	return nil
}
