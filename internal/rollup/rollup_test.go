package rollup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher behaves like the upstream: it returns the orders created inside
// the requested window.
type fakeFetcher struct {
	mu       sync.Mutex
	orders   []entity.Order
	timezone string
	failAt   int // 1-based window call that fails, 0 never
	windows  []entity.FetchWindow
	tzCalls  int
}

func (f *fakeFetcher) ListOrders(ctx context.Context, acc *entity.Account, w entity.FetchWindow) ([]entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if f.failAt > 0 && len(f.windows) == f.failAt {
		return nil, errors.New("upstream exploded")
	}
	var res []entity.Order
	for _, o := range f.orders {
		if !o.CreatedAt.Before(w.Start) && o.CreatedAt.Before(w.End) {
			res = append(res, o)
		}
	}
	return res, nil
}

func (f *fakeFetcher) ShopTimezone(ctx context.Context, acc *entity.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tzCalls++
	return f.timezone, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func strPtr(s string) *string { return &s }

func utcAccount() *entity.Account {
	return &entity.Account{Id: "acc-1", ShopDomain: "shop.example.com", Timezone: "UTC"}
}

func newTestEngine(f OrderFetcher) *Engine {
	return New(&Config{WindowsPerDay: 4}, f)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: expected %s, got %s", field, want, got.String())
}

func TestReconcile_EndToEndScenario(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{{
		Id:             1001,
		CreatedAt:      at("2024-03-05T10:00:00Z"),
		TotalPrice:     dec("100"),
		SubtotalPrice:  dec("90"),
		TotalDiscounts: dec("10"),
		LineItems: []entity.LineItem{
			{Id: 1, Price: dec("30"), Quantity: 2},
			{Id: 2, Price: dec("30"), Quantity: 1},
		},
		Refunds: []entity.Refund{{
			Id:              9001,
			CreatedAt:       "2024-03-06T09:00:00Z",
			RefundLineItems: []entity.RefundLineItem{{Id: 1, Quantity: 1, Subtotal: "20.00"}},
			Transactions:    []entity.RefundTransaction{{Id: 1, Kind: "refund", Amount: "20.00"}},
		}},
	}}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-05", "2024-03-06")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStateDone, res.State)
	assert.NotEmpty(t, res.RunId)
	require.Len(t, res.Buckets, 2)

	d1 := res.Buckets[0]
	assert.Equal(t, "2024-03-05", d1.Date)
	assertMoney(t, "90", d1.GrossSales, "day1 grossSales")
	assertMoney(t, "10", d1.DiscountAmount, "day1 discountAmount")
	assertMoney(t, "100", d1.TotalPriceSum, "day1 totalPriceSum")
	assertMoney(t, "0", d1.RefundAmount, "day1 refundAmount")
	assertMoney(t, "80", d1.NetSalesAfterDiscount, "day1 netSalesAfterDiscount")
	assertMoney(t, "100", d1.NetSalesAfterRefund, "day1 netSalesAfterRefund")
	assert.Equal(t, 1, d1.OrderCount)
	assert.Equal(t, 0, d1.CancelledOrderCount)
	require.Len(t, d1.Orders, 1)
	assert.Equal(t, int64(1001), d1.Orders[0].Id)

	d2 := res.Buckets[1]
	assert.Equal(t, "2024-03-06", d2.Date)
	assertMoney(t, "20", d2.RefundAmount, "day2 refundAmount")
	assertMoney(t, "-20", d2.NetSalesAfterRefund, "day2 netSalesAfterRefund")
	assertMoney(t, "0", d2.GrossSales, "day2 grossSales")
	assertMoney(t, "0", d2.TotalPriceSum, "day2 totalPriceSum")
	assertMoney(t, "0", d2.DiscountAmount, "day2 discountAmount")
	assertMoney(t, "0", d2.NetSalesAfterDiscount, "day2 netSalesAfterDiscount")
	assert.Equal(t, 0, d2.OrderCount)
	assert.Empty(t, d2.Orders)
}

func TestReconcile_CancelledAndTestExclusion(t *testing.T) {
	ts := at("2024-03-05T12:00:00Z")
	cancelledAt := at("2024-03-05T13:00:00Z")
	f := &fakeFetcher{orders: []entity.Order{
		{Id: 1, CreatedAt: ts, TotalPrice: dec("50"), SubtotalPrice: dec("50")},
		{Id: 2, CreatedAt: ts, TotalPrice: dec("70"), SubtotalPrice: dec("70"), CancelledAt: &cancelledAt},
		{Id: 3, CreatedAt: ts, TotalPrice: dec("999"), SubtotalPrice: dec("999"), TotalDiscounts: dec("5"), Test: true,
			Refunds: []entity.Refund{{Id: 1, CreatedAt: "2024-03-05T14:00:00Z", Transactions: []entity.RefundTransaction{{Amount: "999"}}}}},
	}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-05", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)

	b := res.Buckets[0]
	assert.Equal(t, 1, b.OrderCount)
	assert.Equal(t, 1, b.CancelledOrderCount)
	assertMoney(t, "50", b.GrossSales, "grossSales")
	assertMoney(t, "50", b.TotalPriceSum, "totalPriceSum")
	assertMoney(t, "0", b.DiscountAmount, "discountAmount")
	assertMoney(t, "0", b.RefundAmount, "refundAmount")
	require.Len(t, b.Orders, 2, "cancelled orders are listed, test orders are not")
	assert.Equal(t, int64(1), b.Orders[0].Id)
	assert.Equal(t, int64(2), b.Orders[1].Id)

	assert.Equal(t, 3, res.Stats.Fetched)
	assert.Equal(t, 1, res.Stats.Normal)
	assert.Equal(t, 1, res.Stats.Cancelled)
	assert.Equal(t, 1, res.Stats.Test)
}

func TestReconcile_CancelledTestOrderIsTest(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{
		{Id: 1, CreatedAt: at("2024-03-05T12:00:00Z"), Test: true, CancelReason: strPtr("customer")},
	}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-05", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Buckets[0].CancelledOrderCount)
	assert.Equal(t, 0, res.Buckets[0].OrderCount)
	assert.Equal(t, 1, res.Stats.Test)
}

func TestReconcile_RefundDateIndependence(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{{
		Id:            1,
		CreatedAt:     at("2024-03-01T08:00:00Z"),
		TotalPrice:    dec("40"),
		SubtotalPrice: dec("40"),
		Refunds: []entity.Refund{
			{Id: 1, CreatedAt: "2024-03-03T08:00:00Z", Transactions: []entity.RefundTransaction{{Amount: "15"}}},
		},
	}}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-04")
	require.NoError(t, err)
	require.Len(t, res.Buckets, 4)

	for _, b := range res.Buckets {
		if b.Date == "2024-03-03" {
			assertMoney(t, "15", b.RefundAmount, b.Date)
			continue
		}
		assertMoney(t, "0", b.RefundAmount, b.Date)
	}
	assertMoney(t, "40", res.Buckets[0].NetSalesAfterRefund, "order day keeps full price")
}

func TestReconcile_RefundOutOfRangeNotRecorded(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{{
		Id:            1,
		CreatedAt:     at("2024-03-01T08:00:00Z"),
		TotalPrice:    dec("40"),
		SubtotalPrice: dec("40"),
		Refunds: []entity.Refund{
			{Id: 1, CreatedAt: "2024-04-10T08:00:00Z", Transactions: []entity.RefundTransaction{{Amount: "40"}}},
		},
	}}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-02")
	require.NoError(t, err)
	for _, b := range res.Buckets {
		assertMoney(t, "0", b.RefundAmount, b.Date)
	}
	assert.Equal(t, 1, res.Stats.RefundsOutOfRange)
	assert.Empty(t, res.Errors)
}

func TestReconcile_RefundParseErrorIsCollected(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{{
		Id:            7,
		CreatedAt:     at("2024-03-01T08:00:00Z"),
		TotalPrice:    dec("40"),
		SubtotalPrice: dec("40"),
		Refunds: []entity.Refund{
			{Id: 70, CreatedAt: "2024-03-01T09:00:00Z", Transactions: []entity.RefundTransaction{{Id: 1, Amount: "lots"}}},
			{Id: 71, CreatedAt: "yesterday", Transactions: []entity.RefundTransaction{{Amount: "1"}}},
			{Id: 72, CreatedAt: "2024-03-01T10:00:00Z", Transactions: []entity.RefundTransaction{{Amount: "5"}}},
		},
	}}}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-01")
	require.NoError(t, err)
	assertMoney(t, "5", res.Buckets[0].RefundAmount, "only the valid refund is booked")

	require.Len(t, res.Errors, 2)
	var rerr *RefundError
	require.True(t, errors.As(res.Errors[0], &rerr))
	assert.Equal(t, int64(7), rerr.OrderId)
	assert.Equal(t, int64(70), rerr.RefundId)
	require.True(t, errors.As(res.Errors[1], &rerr))
	assert.Equal(t, int64(71), rerr.RefundId)
}

func TestReconcile_Density(t *testing.T) {
	f := &fakeFetcher{}
	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-02-25", "2024-03-03")
	require.NoError(t, err)

	want := []string{"2024-02-25", "2024-02-26", "2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02", "2024-03-03"}
	require.Len(t, res.Buckets, len(want))
	for i, b := range res.Buckets {
		assert.Equal(t, want[i], b.Date)
		assert.Equal(t, 0, b.OrderCount)
		assertMoney(t, "0", b.NetSalesAfterRefund, b.Date)
	}
	assert.Equal(t, len(want)*4, res.Stats.Windows)
}

func TestReconcile_WindowsAreSequentialAndOrdered(t *testing.T) {
	f := &fakeFetcher{}
	_, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-03")
	require.NoError(t, err)

	require.Len(t, f.windows, 12)
	assert.True(t, f.windows[0].Start.Equal(at("2024-03-01T00:00:00Z")))
	assert.True(t, f.windows[11].End.Equal(at("2024-03-04T00:00:00Z")))
	for i := 1; i < len(f.windows); i++ {
		assert.True(t, f.windows[i-1].End.Equal(f.windows[i].Start))
	}
}

func TestReconcile_MerchantLocalDay(t *testing.T) {
	// 03:00 UTC on March 5th is still March 4th in New York.
	f := &fakeFetcher{orders: []entity.Order{
		{Id: 1, CreatedAt: at("2024-03-05T03:00:00Z"), TotalPrice: dec("10"), SubtotalPrice: dec("10")},
		{Id: 2, CreatedAt: at("2024-03-05T06:00:00Z"), TotalPrice: dec("20"), SubtotalPrice: dec("20")},
	}}
	acc := utcAccount()
	acc.Timezone = "America/New_York"

	res, err := newTestEngine(f).Reconcile(context.Background(), acc, "2024-03-04", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, res.Buckets, 2)
	assertMoney(t, "10", res.Buckets[0].TotalPriceSum, "2024-03-04")
	assertMoney(t, "20", res.Buckets[1].TotalPriceSum, "2024-03-05")
	assert.Equal(t, "America/New_York", res.Timezone)
}

func TestReconcile_TimezoneFromShop(t *testing.T) {
	f := &fakeFetcher{timezone: "Asia/Tokyo", orders: []entity.Order{
		{Id: 1, CreatedAt: at("2024-03-04T20:00:00Z"), TotalPrice: dec("10"), SubtotalPrice: dec("10")},
	}}
	acc := utcAccount()
	acc.Timezone = ""

	res, err := newTestEngine(f).Reconcile(context.Background(), acc, "2024-03-05", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, 1, f.tzCalls)
	assert.Equal(t, "Asia/Tokyo", res.Timezone)
	assert.Equal(t, 1, res.Buckets[0].OrderCount)
}

func TestReconcile_DuplicatesAcrossWindowsCountedOnce(t *testing.T) {
	o := entity.Order{Id: 5, CreatedAt: at("2024-03-05T05:59:59Z"), TotalPrice: dec("10"), SubtotalPrice: dec("10")}
	dup := &dupFetcher{order: o}

	res, err := newTestEngine(dup).Reconcile(context.Background(), utcAccount(), "2024-03-05", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buckets[0].OrderCount)
	assertMoney(t, "10", res.Buckets[0].TotalPriceSum, "totalPriceSum")
	assert.Equal(t, 4, res.Stats.Fetched)
	assert.Equal(t, 3, res.Stats.Duplicates)
}

// dupFetcher returns the same order for every window.
type dupFetcher struct{ order entity.Order }

func (d *dupFetcher) ListOrders(context.Context, *entity.Account, entity.FetchWindow) ([]entity.Order, error) {
	return []entity.Order{d.order}, nil
}

func (d *dupFetcher) ShopTimezone(context.Context, *entity.Account) (string, error) {
	return "UTC", nil
}

func TestReconcile_PartitionCompleteness(t *testing.T) {
	cancelledAt := at("2024-03-02T00:00:00Z")
	var orders []entity.Order
	for i := 0; i < 30; i++ {
		o := entity.Order{
			Id:            int64(i + 1),
			CreatedAt:     at("2024-03-01T00:00:00Z").Add(time.Duration(i) * 90 * time.Minute),
			TotalPrice:    dec("1"),
			SubtotalPrice: dec("1"),
		}
		switch i % 3 {
		case 1:
			o.CancelledAt = &cancelledAt
		case 2:
			o.Test = true
		}
		orders = append(orders, o)
	}
	f := &fakeFetcher{orders: orders}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-02")
	require.NoError(t, err)

	s := res.Stats
	assert.Equal(t, 30, s.Fetched)
	assert.Equal(t, s.Fetched, s.Normal+s.Cancelled+s.Test+s.Duplicates+s.OutOfRange)

	orderCount, cancelledCount := 0, 0
	for _, b := range res.Buckets {
		orderCount += b.OrderCount
		cancelledCount += b.CancelledOrderCount
	}
	assert.Equal(t, 10, orderCount)
	assert.Equal(t, 10, cancelledCount)
	assert.Equal(t, 10, s.Test)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := &fakeFetcher{orders: []entity.Order{
		{Id: 1, CreatedAt: at("2024-03-01T10:00:00Z"), TotalPrice: dec("19.99"), SubtotalPrice: dec("17.49"), TotalDiscounts: dec("2.50"),
			LineItems: []entity.LineItem{{Price: dec("9.995"), Quantity: 2}},
			Refunds:   []entity.Refund{{CreatedAt: "2024-03-02T10:00:00Z", RefundLineItems: []entity.RefundLineItem{{Subtotal: "3.33"}}}}},
		{Id: 2, CreatedAt: at("2024-03-02T23:59:59Z"), TotalPrice: dec("0.10"), SubtotalPrice: dec("0.10")},
	}}
	e := newTestEngine(f)

	first, err := e.Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-02")
	require.NoError(t, err)
	second, err := e.Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-02")
	require.NoError(t, err)

	assert.Equal(t, first.Buckets, second.Buckets)
	assert.Equal(t, first.Stats, second.Stats)
	assert.NotEqual(t, first.RunId, second.RunId)
}

func TestReconcile_WindowFailureAbortsRun(t *testing.T) {
	f := &fakeFetcher{failAt: 6}

	res, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-03")
	require.Error(t, err)
	assert.Nil(t, res, "no partial result on failure")

	var werr *WindowError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "2024-03-02", werr.Date)
	assert.Equal(t, 1, werr.Index)
	assert.NotEmpty(t, werr.RunId)
	assert.Len(t, f.windows, 6, "no windows are fetched after a failure")
}

func TestReconcile_InvalidRange(t *testing.T) {
	f := &fakeFetcher{}
	_, err := newTestEngine(f).Reconcile(context.Background(), utcAccount(), "2024-03-03", "2024-03-01")
	require.Error(t, err)
	assert.Empty(t, f.windows)
}

func TestReconcile_RangeTooLarge(t *testing.T) {
	e := New(&Config{WindowsPerDay: 1, MaxRangeDays: 7}, &fakeFetcher{})
	_, err := e.Reconcile(context.Background(), utcAccount(), "2024-03-01", "2024-03-31")
	assert.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestReconcile_HugeRangeRejectedBeforePlanning(t *testing.T) {
	f := &fakeFetcher{timezone: "America/Santiago"}
	e := New(&Config{WindowsPerDay: 4, MaxRangeDays: 366}, f)
	acc := &entity.Account{Id: "acc-1", ShopDomain: "shop.example.com"}

	done := make(chan error, 1)
	go func() {
		_, err := e.Reconcile(context.Background(), acc, "0001-01-01", "9999-12-31")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRangeTooLarge)
	case <-time.After(time.Second):
		t.Fatal("range check did not return promptly")
	}
	assert.Equal(t, 0, f.tzCalls, "no upstream call for a rejected range")
	assert.Empty(t, f.windows)
}

func TestReconcile_MidnightInDSTGap(t *testing.T) {
	// Santiago has no 2022-09-11 00:00; the day starts at 01:00 -03 (04:00 UTC).
	f := &fakeFetcher{orders: []entity.Order{
		{Id: 1, CreatedAt: at("2022-09-11T03:30:00Z"), TotalPrice: dec("10"), SubtotalPrice: dec("10")},
		{Id: 2, CreatedAt: at("2022-09-11T04:30:00Z"), TotalPrice: dec("20"), SubtotalPrice: dec("20")},
	}}
	acc := &entity.Account{Id: "acc-1", ShopDomain: "shop.example.com", Timezone: "America/Santiago"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := newTestEngine(f).Reconcile(ctx, acc, "2022-09-10", "2022-09-12")
	require.NoError(t, err)
	require.Len(t, res.Buckets, 3)

	assert.Equal(t, "2022-09-10", res.Buckets[0].Date)
	assert.Equal(t, "2022-09-11", res.Buckets[1].Date)
	assert.Equal(t, "2022-09-12", res.Buckets[2].Date)
	assertMoney(t, "10", res.Buckets[0].TotalPriceSum, "2022-09-10 totalPriceSum")
	assertMoney(t, "20", res.Buckets[1].TotalPriceSum, "2022-09-11 totalPriceSum")
	assert.Equal(t, 0, res.Stats.OutOfRange)
	assert.Len(t, f.windows, 12)
}

func TestReconcile_ContextCancelled(t *testing.T) {
	f := &fakeFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(f).Reconcile(ctx, utcAccount(), "2024-03-01", "2024-03-03")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.windows)
}
