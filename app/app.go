package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jekabolt/sales-rollup/config"
	httpapi "github.com/jekabolt/sales-rollup/internal/api/http"
	"github.com/jekabolt/sales-rollup/internal/cache"
	"github.com/jekabolt/sales-rollup/internal/commerce/shopify"
	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/events"
	"github.com/jekabolt/sales-rollup/internal/ratelimit"
	"github.com/jekabolt/sales-rollup/internal/rollup"
	"github.com/jekabolt/sales-rollup/internal/rollupsync"
	"github.com/jekabolt/sales-rollup/internal/store"
)

// App is the main application
type App struct {
	hs        *httpapi.Server
	db        dependency.Repository
	cache     dependency.ResultCache
	publisher dependency.Publisher
	worker    *rollupsync.Worker
	c         *config.Config
	done      chan struct{}
	doneOnce  sync.Once
}

// New returns a new instance of App
func New(c *config.Config) *App {
	return &App{
		c:    c,
		done: make(chan struct{}),
	}
}

// NewEngine builds the reconciliation engine over the upstream client. The
// client is returned too since it also resolves shop timezones.
func NewEngine(c *config.Config) (*rollup.Engine, *shopify.Client) {
	pacer := ratelimit.NewPacer(c.Shopify.MinRequestInterval)
	client := shopify.New(&c.Shopify, pacer, c.Shopify.RetryPolicy())
	return rollup.New(&c.Rollup, client), client
}

// Start starts the app
func (a *App) Start(ctx context.Context) error {
	var err error
	slog.Default().InfoContext(ctx, "starting sales rollup",
		slog.Int("accounts", len(a.c.Accounts)))

	engine, client := NewEngine(a.c)

	a.cache, err = cache.New(ctx, &a.c.Redis)
	if err != nil {
		slog.Default().ErrorContext(ctx, "couldn't connect to redis", slog.String("err", err.Error()))
		return err
	}

	a.publisher, err = events.New(&a.c.Kafka)
	if err != nil {
		slog.Default().ErrorContext(ctx, "couldn't create kafka publisher", slog.String("err", err.Error()))
		return err
	}

	deps := &httpapi.Deps{
		Accounts:   entity.Accounts(a.c.Accounts),
		Reconciler: engine,
		Cache:      a.cache,
	}

	if a.c.DB.DSN != "" {
		ms, err := store.New(ctx, a.c.DB)
		if err != nil {
			slog.Default().ErrorContext(ctx, "couldn't connect to mysql", slog.String("err", err.Error()))
			return err
		}
		a.db = ms
		deps.Rollups = ms.Rollups()
		deps.Runs = ms.Runs()
		deps.DB = ms

		a.worker = rollupsync.New(a.c.Accounts, engine, client, &rollupStore{rep: ms}, a.cache, a.publisher, &a.c.RollupSync)
		if err := a.worker.Start(ctx); err != nil {
			slog.Default().ErrorContext(ctx, "cannot start rollup sync worker", slog.String("err", err.Error()))
			return err
		}
	} else {
		slog.Default().WarnContext(ctx, "mysql dsn is not set, rollup storage and sync worker are disabled")
	}

	a.hs = httpapi.New(&a.c.HTTP, deps)
	if err = a.hs.Start(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "cannot start http server", slog.String("err", err.Error()))
		return err
	}
	go func() {
		<-a.hs.Done()
		a.doneOnce.Do(func() { close(a.done) })
	}()

	return nil
}

// Stop stops the application and waits for all services to exit
func (a *App) Stop(ctx context.Context) {
	if a.worker != nil {
		if err := a.worker.Stop(); err != nil {
			slog.Default().WarnContext(ctx, "can't stop rollup sync worker", slog.String("err", err.Error()))
		}
	}
	if a.hs != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.hs.Stop(shutdownCtx); err != nil {
			slog.Default().WarnContext(ctx, "can't stop http server", slog.String("err", err.Error()))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			slog.Default().WarnContext(ctx, "can't close kafka publisher", slog.String("err", err.Error()))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Default().WarnContext(ctx, "can't close redis client", slog.String("err", err.Error()))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	a.doneOnce.Do(func() { close(a.done) })
}

// Done returns a channel that is closed after the application has exited
func (a *App) Done() <-chan struct{} {
	return a.done
}

// rollupStore joins the rollup and run stores for the sync worker.
type rollupStore struct {
	rep dependency.Repository
}

func (s *rollupStore) SaveDailyRollups(ctx context.Context, accountId string, buckets []entity.DailyBucket) error {
	return s.rep.Rollups().SaveDailyRollups(ctx, accountId, buckets)
}

func (s *rollupStore) SaveRun(ctx context.Context, run *entity.RollupRun) error {
	return s.rep.Runs().SaveRun(ctx, run)
}
