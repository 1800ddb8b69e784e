package rollup

import (
	"github.com/jekabolt/sales-rollup/internal/entity"
)

const moneyPlaces = 2

// Finalize computes the derived net figures of every bucket and returns them
// with the run stats and refund errors. The Rollup must not be used afterwards.
func (r *Rollup) Finalize() ([]entity.DailyBucket, entity.RunStats, []error) {
	for i := range r.buckets {
		finalizeBucket(&r.buckets[i])
	}
	buckets := r.buckets
	r.buckets = nil
	r.index = nil
	return buckets, r.stats, r.errs
}

func finalizeBucket(b *entity.DailyBucket) {
	// what the merchant sold
	b.NetSalesAfterDiscount = b.GrossSales.Sub(b.DiscountAmount).Round(moneyPlaces)
	// what the merchant kept
	b.NetSalesAfterRefund = b.TotalPriceSum.Sub(b.RefundAmount).Round(moneyPlaces)

	b.GrossSales = b.GrossSales.Round(moneyPlaces)
	b.TotalPriceSum = b.TotalPriceSum.Round(moneyPlaces)
	b.RefundAmount = b.RefundAmount.Round(moneyPlaces)
	b.DiscountAmount = b.DiscountAmount.Round(moneyPlaces)
}
