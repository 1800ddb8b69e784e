package store

import (
	"context"
	"fmt"

	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/entity"
)

type rollupStore struct {
	*MYSQLStore
}

// Rollups returns an object implementing the Rollups interface.
func (ms *MYSQLStore) Rollups() dependency.Rollups {
	return &rollupStore{
		MYSQLStore: ms,
	}
}

// SaveDailyRollups upserts one row per bucket in a single transaction, so a
// range is either fully replaced or left untouched.
func (ms *rollupStore) SaveDailyRollups(ctx context.Context, accountId string, buckets []entity.DailyBucket) error {
	if len(buckets) == 0 {
		return nil
	}

	query := `
		INSERT INTO daily_rollups (
			account_id, date, gross_sales, total_price_sum, refund_amount, discount_amount,
			order_count, cancelled_order_count, net_sales_after_discount, net_sales_after_refund
		) VALUES (
			:accountId, :date, :grossSales, :totalPriceSum, :refundAmount, :discountAmount,
			:orderCount, :cancelledOrderCount, :netSalesAfterDiscount, :netSalesAfterRefund
		)
		ON DUPLICATE KEY UPDATE
			gross_sales = VALUES(gross_sales),
			total_price_sum = VALUES(total_price_sum),
			refund_amount = VALUES(refund_amount),
			discount_amount = VALUES(discount_amount),
			order_count = VALUES(order_count),
			cancelled_order_count = VALUES(cancelled_order_count),
			net_sales_after_discount = VALUES(net_sales_after_discount),
			net_sales_after_refund = VALUES(net_sales_after_refund),
			updated_at = CURRENT_TIMESTAMP
	`

	return ms.Tx(ctx, func(ctx context.Context, rep dependency.Repository) error {
		for _, b := range buckets {
			params := map[string]any{
				"accountId":             accountId,
				"date":                  b.Date,
				"grossSales":            b.GrossSales,
				"totalPriceSum":         b.TotalPriceSum,
				"refundAmount":          b.RefundAmount,
				"discountAmount":        b.DiscountAmount,
				"orderCount":            b.OrderCount,
				"cancelledOrderCount":   b.CancelledOrderCount,
				"netSalesAfterDiscount": b.NetSalesAfterDiscount,
				"netSalesAfterRefund":   b.NetSalesAfterRefund,
			}
			if err := ExecNamed(ctx, rep.DB(), query, params); err != nil {
				return fmt.Errorf("failed to save daily rollup for %s: %w", b.Date, err)
			}
		}
		return nil
	})
}

// GetDailyRollups returns stored rollups in [startDate, endDate]. Days never
// reconciled are absent.
func (ms *rollupStore) GetDailyRollups(ctx context.Context, accountId string, startDate, endDate string) ([]entity.StoredDailyRollup, error) {
	query := `
		SELECT
			account_id,
			DATE_FORMAT(date, '%Y-%m-%d') AS date,
			gross_sales,
			total_price_sum,
			refund_amount,
			discount_amount,
			order_count,
			cancelled_order_count,
			net_sales_after_discount,
			net_sales_after_refund,
			updated_at
		FROM daily_rollups
		WHERE account_id = :accountId AND date BETWEEN :startDate AND :endDate
		ORDER BY date ASC
	`
	rollups, err := QueryListNamed[entity.StoredDailyRollup](ctx, ms.DB(), query, map[string]any{
		"accountId": accountId,
		"startDate": startDate,
		"endDate":   endDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get daily rollups: %w", err)
	}
	return rollups, nil
}

type runStore struct {
	*MYSQLStore
}

// Runs returns an object implementing the Runs interface.
func (ms *MYSQLStore) Runs() dependency.Runs {
	return &runStore{
		MYSQLStore: ms,
	}
}

func (ms *runStore) SaveRun(ctx context.Context, run *entity.RollupRun) error {
	query := `
		INSERT INTO rollup_runs (
			run_id, account_id, start_date, end_date, state, orders_fetched, error_msg, started_at, finished_at
		) VALUES (
			:runId, :accountId, :startDate, :endDate, :state, :ordersFetched, :errorMsg, :startedAt, :finishedAt
		)
	`
	err := ExecNamed(ctx, ms.DB(), query, map[string]any{
		"runId":         run.RunId,
		"accountId":     run.AccountId,
		"startDate":     run.StartDate,
		"endDate":       run.EndDate,
		"state":         run.State,
		"ordersFetched": run.OrdersFetched,
		"errorMsg":      run.ErrorMsg,
		"startedAt":     run.StartedAt,
		"finishedAt":    run.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunId, err)
	}
	return nil
}

func (ms *runStore) GetLastRun(ctx context.Context, accountId string) (*entity.RollupRun, error) {
	query := `
		SELECT
			run_id,
			account_id,
			DATE_FORMAT(start_date, '%Y-%m-%d') AS start_date,
			DATE_FORMAT(end_date, '%Y-%m-%d') AS end_date,
			state,
			orders_fetched,
			error_msg,
			started_at,
			finished_at
		FROM rollup_runs
		WHERE account_id = :accountId
		ORDER BY finished_at DESC
		LIMIT 1
	`
	run, err := QueryNamedOne[entity.RollupRun](ctx, ms.DB(), query, map[string]any{
		"accountId": accountId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return &run, nil
}
