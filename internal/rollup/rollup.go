package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/window"
)

// ErrRangeTooLarge is returned when a request spans more days than allowed.
var ErrRangeTooLarge = errors.New("date range too large")

// OrderFetcher retrieves upstream orders for one account.
type OrderFetcher interface {
	ListOrders(ctx context.Context, acc *entity.Account, w entity.FetchWindow) ([]entity.Order, error)
	ShopTimezone(ctx context.Context, acc *entity.Account) (string, error)
}

// Config holds engine configuration.
type Config struct {
	WindowsPerDay int `mapstructure:"windows_per_day"`
	MaxRangeDays  int `mapstructure:"max_range_days"` // zero means unlimited
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		WindowsPerDay: window.DefaultWindowsPerDay,
		MaxRangeDays:  366,
	}
}

// WindowError aborts a run: one fetch window could not be retrieved.
type WindowError struct {
	RunId  string
	Date   string
	Index  int
	Window entity.FetchWindow
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("run %s: day %s window %d [%s, %s): %v",
		e.RunId, e.Date, e.Index,
		e.Window.Start.Format(time.RFC3339), e.Window.End.Format(time.RFC3339), e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

// Engine rebuilds a merchant's daily sales history from upstream orders.
type Engine struct {
	fetcher OrderFetcher
	c       *Config
}

// New creates an engine.
func New(c *Config, fetcher OrderFetcher) *Engine {
	if c == nil {
		dc := DefaultConfig()
		c = &dc
	}
	if c.WindowsPerDay <= 0 {
		c.WindowsPerDay = window.DefaultWindowsPerDay
	}
	return &Engine{
		fetcher: fetcher,
		c:       c,
	}
}

// Reconcile returns one finalized bucket per merchant-local day in
// [startDate, endDate]. Days and windows are fetched strictly in order.
//
// The run is all-or-nothing: the first window that fails aborts it with a
// *WindowError and no buckets are returned. Refunds created outside the
// requested range are not recorded anywhere; they are only counted in
// Stats.RefundsOutOfRange, so a range ending today under-reports refunds
// issued later for its orders.
func (e *Engine) Reconcile(ctx context.Context, acc *entity.Account, startDate, endDate string) (*entity.ReconciliationResult, error) {
	span, err := window.DaySpan(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if e.c.MaxRangeDays > 0 && span > e.c.MaxRangeDays {
		return nil, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrRangeTooLarge, span, e.c.MaxRangeDays)
	}

	tz := acc.Timezone
	if tz == "" {
		tz, err = e.fetcher.ShopTimezone(ctx, acc)
		if err != nil {
			return nil, fmt.Errorf("can't get shop timezone: %w", err)
		}
	}
	loc, err := window.LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	days, err := window.Plan(startDate, endDate, loc, e.c.WindowsPerDay)
	if err != nil {
		return nil, err
	}

	res := &entity.ReconciliationResult{
		RunId:     uuid.NewString(),
		AccountId: acc.Id,
		Timezone:  tz,
		StartDate: startDate,
		EndDate:   endDate,
	}
	log := slog.Default().With(
		slog.String("run_id", res.RunId),
		slog.String("account_id", acc.Id),
	)
	setState := func(s entity.RunState) {
		res.State = s
		log.DebugContext(ctx, "reconciliation state", slog.String("state", string(s)))
	}

	setState(entity.RunStatePlanned)
	log.InfoContext(ctx, "starting reconciliation",
		slog.String("start_date", startDate),
		slog.String("end_date", endDate),
		slog.String("timezone", tz),
		slog.Int("days", len(days)),
	)

	started := time.Now()
	r := NewRollup(days, loc)
	windows := 0
	for _, d := range days {
		for i, w := range d.Windows {
			if err := ctx.Err(); err != nil {
				setState(entity.RunStateFailed)
				return nil, fmt.Errorf("reconciliation cancelled: %w", err)
			}

			setState(entity.RunStateFetching)
			orders, err := e.fetcher.ListOrders(ctx, acc, w)
			if err != nil {
				setState(entity.RunStateFailed)
				werr := &WindowError{RunId: res.RunId, Date: d.Date, Index: i, Window: w, Err: err}
				log.ErrorContext(ctx, "reconciliation failed", slog.String("err", werr.Error()))
				return nil, werr
			}

			setState(entity.RunStateAggregating)
			r.Add(orders)
			windows++
		}
	}

	setState(entity.RunStateFinalizing)
	res.Buckets, res.Stats, res.Errors = r.Finalize()
	res.Stats.Windows = windows
	setState(entity.RunStateDone)

	log.InfoContext(ctx, "reconciliation done",
		slog.Int("orders_fetched", res.Stats.Fetched),
		slog.Int("orders_normal", res.Stats.Normal),
		slog.Int("orders_cancelled", res.Stats.Cancelled),
		slog.Int("orders_test", res.Stats.Test),
		slog.Int("refunds_out_of_range", res.Stats.RefundsOutOfRange),
		slog.Int("refund_errors", len(res.Errors)),
		slog.Duration("took", time.Since(started)),
	)
	return res, nil
}
