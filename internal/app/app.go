package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pesowatch/internal/api"
	"pesowatch/internal/config"
	"pesowatch/internal/forex"
	"pesowatch/internal/httputil"
	"pesowatch/internal/scheduler"
	"pesowatch/internal/storage"
	ratesync "pesowatch/internal/sync"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProvider() forex.Provider {
	opts := forex.Options{
		BaseURL:     a.Config.Forex.BaseURL,
		Timeout:     a.Config.Forex.RequestTimeout,
		UserAgent:   a.Config.Forex.UserAgent,
		DollarIndex: a.Config.Forex.DollarIndex,
		Retry: httputil.RetryConfig{
			MaxAttempts: a.Config.Forex.MaxRetries,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
	}

	if a.Config.Forex.Provider == config.ProviderExchangerateHost {
		return forex.NewExchangerateHost(opts, a.Logger)
	}
	return forex.NewFrankfurter(opts, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSynchronizer(store *storage.Store) *ratesync.Synchronizer {
	var locker ratesync.Locker
	if store != nil {
		locker = store
	}
	return ratesync.New(a.newProvider(), store.Rates, locker, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
}

// Serve runs the HTTP API and the periodic rate refresh until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	syncer := a.newSynchronizer(store)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Location:     a.Config.MarketLocation(),
		OpenHour:     a.Config.Scheduler.MarketOpenHour,
		CloseHour:    a.Config.Scheduler.MarketCloseHour,
	}, a.Logger)

	server := api.NewServer(a.Config.Server, store.Rates, store.Transactions, store.Alerts, syncer, a.Logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		if err := a.bootstrapHistory(ctx, store, syncer); err != nil {
			a.Logger.Error().Err(err).Msg("initial history bootstrap failed")
		}
		_ = sched.Run(ctx, func(ctx context.Context) error {
			err := syncer.SyncLatest(ctx)
			if errors.Is(err, ratesync.ErrLockHeld) {
				return nil
			}
			return err
		})
	}()

	a.Logger.Info().Msg("pesowatch serving")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("server shutdown failed")
	}

	a.Logger.Info().Msg("pesowatch stopped")
	return nil
}

// bootstrapHistory seeds an empty rate table with the trailing year of
// upstream data, the first-run behaviour of the original dashboard.
func (a *App) bootstrapHistory(ctx context.Context, store *storage.Store, syncer *ratesync.Synchronizer) error {
	days := a.Config.Scheduler.InitialBackfillDays
	if days <= 0 {
		return nil
	}

	count, err := store.Rates.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	to := storage.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -days)

	a.Logger.Info().Str("from", from.Format(storage.DateLayout)).
		Str("to", to.Format(storage.DateLayout)).Msg("empty rate table, bootstrapping history")

	synced, err := syncer.SyncRange(ctx, from, to)
	if errors.Is(err, ratesync.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return err
	}
	a.Logger.Info().Int("records", synced).Msg("history bootstrap complete")
	return nil
}

// SyncLatest performs a one-shot latest-rate synchronization.
func (a *App) SyncLatest(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newSynchronizer(store).SyncLatest(ctx)
}

// ExportOptions hold parameters for exporting stored rate history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From     time.Time
	To       time.Time
	FillGaps bool
	DryRun   bool
}
