package rollup

import (
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/window"
	"github.com/shopspring/decimal"
)

// Rollup owns the dense, ordered buckets of one run. Buckets are allocated
// from the planned days up front and only ever addressed through bucketFor.
type Rollup struct {
	loc     *time.Location
	buckets []entity.DailyBucket
	index   map[string]int
	seen    map[int64]struct{}
	stats   entity.RunStats
	errs    []error
}

// NewRollup allocates one empty bucket per planned day.
func NewRollup(days []entity.Day, loc *time.Location) *Rollup {
	r := &Rollup{
		loc:     loc,
		buckets: make([]entity.DailyBucket, len(days)),
		index:   make(map[string]int, len(days)),
		seen:    make(map[int64]struct{}),
	}
	for i, d := range days {
		r.buckets[i] = entity.DailyBucket{
			Date:   d.Date,
			Orders: []entity.Order{},
		}
		r.index[d.Date] = i
	}
	return r
}

func (r *Rollup) bucketFor(t time.Time) (*entity.DailyBucket, bool) {
	i, ok := r.index[window.DateOf(t, r.loc)]
	if !ok {
		return nil, false
	}
	return &r.buckets[i], true
}

// Add folds a batch of fetched orders: sales go to the order's creation day,
// refunds of normal orders go to each refund's own day.
func (r *Rollup) Add(orders []entity.Order) {
	for i := range orders {
		r.add(&orders[i])
	}
}

func (r *Rollup) add(o *entity.Order) {
	r.stats.Fetched++
	if _, dup := r.seen[o.Id]; dup {
		r.stats.Duplicates++
		return
	}
	r.seen[o.Id] = struct{}{}

	class := Classify(o)
	if class == ClassTest {
		r.stats.Test++
		return
	}

	b, ok := r.bucketFor(o.CreatedAt)
	if !ok {
		r.stats.OutOfRange++
		return
	}

	if class == ClassCancelled {
		r.stats.Cancelled++
		b.CancelledOrderCount++
		b.Orders = append(b.Orders, *o)
		return
	}

	r.stats.Normal++
	b.GrossSales = b.GrossSales.Add(LineItemTotal(o))
	b.TotalPriceSum = b.TotalPriceSum.Add(o.TotalPrice)
	b.DiscountAmount = b.DiscountAmount.Add(o.TotalDiscounts)
	b.OrderCount++
	b.Orders = append(b.Orders, *o)

	r.reconcileRefunds(o)
}

// LineItemTotal is Σ price × quantity over line items, or subtotal + discounts
// when upstream returned no line items.
func LineItemTotal(o *entity.Order) decimal.Decimal {
	if len(o.LineItems) == 0 {
		return o.SubtotalPrice.Add(o.TotalDiscounts)
	}
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Price.Mul(decimal.NewFromInt(li.Quantity)))
	}
	return total
}
