package rollup

import "github.com/jekabolt/sales-rollup/internal/entity"

// Class partitions fetched orders for aggregation.
type Class int

const (
	ClassNormal Class = iota
	ClassCancelled
	ClassTest
)

func (c Class) String() string {
	switch c {
	case ClassTest:
		return "test"
	case ClassCancelled:
		return "cancelled"
	default:
		return "normal"
	}
}

// Classify returns exactly one class for o. Test is checked first so a
// cancelled test order stays fully excluded.
func Classify(o *entity.Order) Class {
	if o.Test {
		return ClassTest
	}
	if o.CancelledAt != nil || (o.CancelReason != nil && *o.CancelReason != "") {
		return ClassCancelled
	}
	return ClassNormal
}
