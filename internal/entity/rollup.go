package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the merchant-local calendar day format used for bucket keys.
const DateLayout = "2006-01-02"

// Account identifies one merchant store on the upstream commerce platform.
type Account struct {
	Id          string `mapstructure:"id"`
	ShopDomain  string `mapstructure:"shop_domain"`
	AccessToken string `mapstructure:"access_token"`
	// Timezone is an IANA name. Empty means it is read from the upstream shop settings.
	Timezone string `mapstructure:"timezone"`
}

// FetchWindow is a bounded time range queried upstream. End is exclusive.
type FetchWindow struct {
	Start time.Time
	End   time.Time
}

// Day is one merchant-local calendar day and the fetch windows covering it.
type Day struct {
	Date    string
	Start   time.Time
	End     time.Time
	Windows []FetchWindow
}

// Order is an upstream order as returned by the order listing API.
type Order struct {
	Id             int64           `json:"id"`
	Name           string          `json:"name"`
	CreatedAt      time.Time       `json:"created_at"`
	Currency       string          `json:"currency"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	SubtotalPrice  decimal.Decimal `json:"subtotal_price"`
	TotalDiscounts decimal.Decimal `json:"total_discounts"`
	LineItems      []LineItem      `json:"line_items"`
	Refunds        []Refund        `json:"refunds"`
	Test           bool            `json:"test"`
	CancelledAt    *time.Time      `json:"cancelled_at"`
	CancelReason   *string         `json:"cancel_reason"`
	FinancialState string          `json:"financial_status"`
}

type LineItem struct {
	Id       int64           `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Refund is one refund event attached to an order. Amounts and the creation
// date are kept as raw upstream strings and parsed during reconciliation so a
// single malformed refund does not invalidate the whole order page.
type Refund struct {
	Id              int64               `json:"id"`
	CreatedAt       string              `json:"created_at"`
	RefundLineItems []RefundLineItem    `json:"refund_line_items"`
	Transactions    []RefundTransaction `json:"transactions"`
}

type RefundLineItem struct {
	Id       int64  `json:"id"`
	Quantity int64  `json:"quantity"`
	Subtotal string `json:"subtotal"`
}

type RefundTransaction struct {
	Id     int64  `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Amount string `json:"amount"`
}

// DailyBucket holds the aggregated sales metrics of one merchant-local day.
type DailyBucket struct {
	Date                  string
	GrossSales            decimal.Decimal
	TotalPriceSum         decimal.Decimal
	RefundAmount          decimal.Decimal
	DiscountAmount        decimal.Decimal
	OrderCount            int
	CancelledOrderCount   int
	NetSalesAfterDiscount decimal.Decimal
	NetSalesAfterRefund   decimal.Decimal
	// Orders lists the normal and cancelled orders created on Date, in fetch
	// order. Test orders are never listed.
	Orders []Order
}

// RunState is the lifecycle state of one reconciliation run.
type RunState string

const (
	RunStatePlanned     RunState = "planned"
	RunStateFetching    RunState = "fetching"
	RunStateAggregating RunState = "aggregating"
	RunStateFinalizing  RunState = "finalizing"
	RunStateDone        RunState = "done"
	RunStateFailed      RunState = "failed"
)

// RunStats counts what a run saw. Fetched equals Normal + Cancelled + Test + Duplicates + OutOfRange.
type RunStats struct {
	Windows           int
	Fetched           int
	Normal            int
	Cancelled         int
	Test              int
	Duplicates        int
	OutOfRange        int
	Refunds           int
	RefundsOutOfRange int
}

// ReconciliationResult is the dense, ordered, finalized rollup of a date range.
type ReconciliationResult struct {
	RunId     string
	AccountId string
	Timezone  string
	StartDate string
	EndDate   string
	State     RunState
	Buckets   []DailyBucket
	Stats     RunStats
	// Errors holds non-fatal per-refund failures. The affected refunds are not counted.
	Errors []error
}

// RollupRun is a persisted record of one reconciliation attempt.
type RollupRun struct {
	RunId         string    `db:"run_id"`
	AccountId     string    `db:"account_id"`
	StartDate     string    `db:"start_date"`
	EndDate       string    `db:"end_date"`
	State         RunState  `db:"state"`
	OrdersFetched int       `db:"orders_fetched"`
	ErrorMsg      string    `db:"error_msg"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
}

// StoredDailyRollup is a finalized bucket as persisted, without the raw orders.
type StoredDailyRollup struct {
	AccountId             string          `db:"account_id"`
	Date                  string          `db:"date"`
	GrossSales            decimal.Decimal `db:"gross_sales"`
	TotalPriceSum         decimal.Decimal `db:"total_price_sum"`
	RefundAmount          decimal.Decimal `db:"refund_amount"`
	DiscountAmount        decimal.Decimal `db:"discount_amount"`
	OrderCount            int             `db:"order_count"`
	CancelledOrderCount   int             `db:"cancelled_order_count"`
	NetSalesAfterDiscount decimal.Decimal `db:"net_sales_after_discount"`
	NetSalesAfterRefund   decimal.Decimal `db:"net_sales_after_refund"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// ErrAccountNotFound is returned for an account id that is not configured.
var ErrAccountNotFound = errors.New("account not found")

// Accounts is the set of configured merchant accounts.
type Accounts []Account

// Find returns the account with the given id.
func (a Accounts) Find(id string) (*Account, error) {
	for i := range a {
		if a[i].Id == id {
			return &a[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}
