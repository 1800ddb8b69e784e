package rollup

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/shopspring/decimal"
)

// RefundError reports a refund that could not be parsed. The refund is left
// out of every bucket; the run continues.
type RefundError struct {
	OrderId  int64
	RefundId int64
	Err      error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund %d of order %d: %v", e.RefundId, e.OrderId, e.Err)
}

func (e *RefundError) Unwrap() error {
	return e.Err
}

// reconcileRefunds books each refund of o on the day the refund was created,
// regardless of where o itself was bucketed. A refund dated outside the
// planned range has no bucket and is not recorded.
func (r *Rollup) reconcileRefunds(o *entity.Order) {
	for i := range o.Refunds {
		rf := &o.Refunds[i]
		r.stats.Refunds++

		createdAt, amount, err := ParseRefund(rf)
		if err != nil {
			r.errs = append(r.errs, &RefundError{OrderId: o.Id, RefundId: rf.Id, Err: err})
			slog.Default().Warn("can't parse refund",
				slog.Int64("order_id", o.Id),
				slog.Int64("refund_id", rf.Id),
				slog.String("err", err.Error()),
			)
			continue
		}

		b, ok := r.bucketFor(createdAt)
		if !ok {
			r.stats.RefundsOutOfRange++
			continue
		}
		b.RefundAmount = b.RefundAmount.Add(amount)
	}
}

// ParseRefund returns the refund time and amount. Upstream reports the refund
// both as line item subtotals and as transactions and the two can disagree;
// the larger sum is taken.
func ParseRefund(rf *entity.Refund) (time.Time, decimal.Decimal, error) {
	createdAt, err := time.Parse(time.RFC3339, rf.CreatedAt)
	if err != nil {
		return time.Time{}, decimal.Zero, fmt.Errorf("created_at %q: %w", rf.CreatedAt, err)
	}

	var errs []error
	lineItems := decimal.Zero
	for _, li := range rf.RefundLineItems {
		v, err := parseAmount(li.Subtotal)
		if err != nil {
			errs = append(errs, fmt.Errorf("refund line item %d subtotal: %w", li.Id, err))
			continue
		}
		lineItems = lineItems.Add(v)
	}
	transactions := decimal.Zero
	for _, tx := range rf.Transactions {
		v, err := parseAmount(tx.Amount)
		if err != nil {
			errs = append(errs, fmt.Errorf("transaction %d amount: %w", tx.Id, err))
			continue
		}
		transactions = transactions.Add(v)
	}
	if len(errs) > 0 {
		return time.Time{}, decimal.Zero, errors.Join(errs...)
	}

	return createdAt, decimal.Max(lineItems, transactions), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
