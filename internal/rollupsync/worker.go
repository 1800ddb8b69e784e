package rollupsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/dto"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/rollup"
	"github.com/jekabolt/sales-rollup/internal/window"
	"golang.org/x/sync/errgroup"
)

// Store defines the interface for rollup persistence.
type Store interface {
	SaveDailyRollups(ctx context.Context, accountId string, buckets []entity.DailyBucket) error
	SaveRun(ctx context.Context, run *entity.RollupRun) error
}

// TimezoneSource resolves the merchant timezone of accounts configured without one.
type TimezoneSource interface {
	ShopTimezone(ctx context.Context, acc *entity.Account) (string, error)
}

// Config holds configuration for the rollup sync worker.
type Config struct {
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
	LookbackDays   int           `mapstructure:"lookback_days"` // days before today re-reconciled on each run
	Concurrency    int           `mapstructure:"concurrency"`   // accounts reconciled in parallel
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		WorkerInterval: 1 * time.Hour,
		LookbackDays:   7,
		Concurrency:    2,
	}
}

// Worker periodically re-reconciles the recent days of every account and
// stores the result.
type Worker struct {
	accounts   []entity.Account
	reconciler dependency.Reconciler
	tz         TimezoneSource
	store      Store
	cache      dependency.ResultCache
	publisher  dependency.Publisher
	c          *Config
	now        func() time.Time
	ctx        context.Context
	stop       context.CancelFunc
}

// New creates a new rollup sync worker.
func New(
	accounts []entity.Account,
	reconciler dependency.Reconciler,
	tz TimezoneSource,
	store Store,
	cache dependency.ResultCache,
	publisher dependency.Publisher,
	c *Config,
) *Worker {
	if c == nil {
		dc := DefaultConfig()
		c = &dc
	}
	if c.WorkerInterval == 0 {
		c.WorkerInterval = 1 * time.Hour
	}
	if c.LookbackDays < 0 {
		c.LookbackDays = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return &Worker{
		accounts:   accounts,
		reconciler: reconciler,
		tz:         tz,
		store:      store,
		cache:      cache,
		publisher:  publisher,
		c:          c,
		now:        time.Now,
	}
}

// Start starts the worker.
func (w *Worker) Start(ctx context.Context) error {
	if w.ctx != nil && w.stop != nil {
		return fmt.Errorf("rollup sync worker already started")
	}
	w.ctx, w.stop = context.WithCancel(ctx)
	go w.worker(w.ctx)
	return nil
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() error {
	if w.stop == nil {
		return fmt.Errorf("rollup sync worker already stopped or not started")
	}
	w.stop()
	w.stop = nil
	return nil
}

func (w *Worker) worker(ctx context.Context) {
	if err := w.SyncAll(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "rollup sync failed on startup",
			slog.String("err", err.Error()))
	}

	ticker := time.NewTicker(w.c.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncAll(ctx); err != nil {
				slog.Default().ErrorContext(ctx, "rollup sync failed",
					slog.String("err", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SyncAll syncs every account. A failing account does not stop the others;
// all failures are returned joined.
func (w *Worker) SyncAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := errgroup.Group{}
	g.SetLimit(w.c.Concurrency)
	for i := range w.accounts {
		acc := w.accounts[i]
		g.Go(func() error {
			if err := w.SyncAccount(ctx, &acc); err != nil {
				slog.Default().ErrorContext(ctx, "account sync failed",
					slog.String("account_id", acc.Id),
					slog.String("err", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("account %s: %w", acc.Id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// SyncAccount reconciles [today-LookbackDays, today] in the merchant's
// timezone, stores the buckets and records the run.
func (w *Worker) SyncAccount(ctx context.Context, acc *entity.Account) error {
	started := w.now()

	if acc.Timezone == "" {
		tz, err := w.tz.ShopTimezone(ctx, acc)
		if err != nil {
			return fmt.Errorf("can't get shop timezone: %w", err)
		}
		resolved := *acc
		resolved.Timezone = tz
		acc = &resolved
	}
	loc, err := window.LoadLocation(acc.Timezone)
	if err != nil {
		return err
	}
	startDate, endDate := LookbackRange(started, loc, w.c.LookbackDays)

	run := &entity.RollupRun{
		AccountId: acc.Id,
		StartDate: startDate,
		EndDate:   endDate,
		StartedAt: started,
	}

	res, err := w.reconciler.Reconcile(ctx, acc, startDate, endDate)
	if err != nil {
		run.RunId = uuid.NewString()
		var werr *rollup.WindowError
		if errors.As(err, &werr) {
			run.RunId = werr.RunId
		}
		w.saveRun(ctx, run, entity.RunStateFailed, err)
		return err
	}
	run.RunId = res.RunId
	run.OrdersFetched = res.Stats.Fetched

	if err := w.store.SaveDailyRollups(ctx, acc.Id, res.Buckets); err != nil {
		err = fmt.Errorf("can't save daily rollups: %w", err)
		w.saveRun(ctx, run, entity.RunStateFailed, err)
		return err
	}

	if err := w.cache.Set(ctx, dto.ConvertReconciliationResult(res)); err != nil {
		slog.Default().WarnContext(ctx, "can't cache reconciliation result",
			slog.String("run_id", res.RunId),
			slog.String("err", err.Error()))
	}
	if err := w.publisher.PublishReconciled(ctx, res); err != nil {
		slog.Default().WarnContext(ctx, "can't publish reconciliation result",
			slog.String("run_id", res.RunId),
			slog.String("err", err.Error()))
	}

	w.saveRun(ctx, run, entity.RunStateDone, nil)
	slog.Default().InfoContext(ctx, "synced account rollups",
		slog.String("account_id", acc.Id),
		slog.String("start_date", startDate),
		slog.String("end_date", endDate),
		slog.Int("days", len(res.Buckets)))
	return nil
}

func (w *Worker) saveRun(ctx context.Context, run *entity.RollupRun, state entity.RunState, runErr error) {
	run.State = state
	run.FinishedAt = w.now()
	if runErr != nil {
		run.ErrorMsg = runErr.Error()
	}
	// the run outcome is recorded even when ctx was cancelled mid-run
	if err := w.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Default().ErrorContext(ctx, "can't save rollup run",
			slog.String("run_id", run.RunId),
			slog.String("err", err.Error()))
	}
}

// LookbackRange returns [today-lookbackDays, today] with today taken in loc.
func LookbackRange(now time.Time, loc *time.Location, lookbackDays int) (string, string) {
	y, m, d := now.In(loc).Date()
	// civil dates; loc midnight may not exist
	start := time.Date(y, m, d-lookbackDays, 12, 0, 0, 0, time.UTC)
	today := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return start.Format(entity.DateLayout), today.Format(entity.DateLayout)
}
