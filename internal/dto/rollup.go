package dto

import (
	"time"

	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

type DailyRollup struct {
	Date                  string         `json:"date"`
	GrossSales            string         `json:"grossSales"`
	TotalPriceSum         string         `json:"totalPriceSum"`
	RefundAmount          string         `json:"refundAmount"`
	DiscountAmount        string         `json:"discountAmount"`
	OrderCount            int            `json:"orderCount"`
	CancelledOrderCount   int            `json:"cancelledOrderCount"`
	NetSalesAfterDiscount string         `json:"netSalesAfterDiscount"`
	NetSalesAfterRefund   string         `json:"netSalesAfterRefund"`
	Orders                []entity.Order `json:"orders"`
}

type RunStats struct {
	Windows           int `json:"windows"`
	OrdersFetched     int `json:"ordersFetched"`
	OrdersNormal      int `json:"ordersNormal"`
	OrdersCancelled   int `json:"ordersCancelled"`
	OrdersTest        int `json:"ordersTest"`
	Duplicates        int `json:"duplicates"`
	OutOfRange        int `json:"outOfRange"`
	Refunds           int `json:"refunds"`
	RefundsOutOfRange int `json:"refundsOutOfRange"`
}

type ReconciliationResponse struct {
	RunId     string        `json:"runId"`
	AccountId string        `json:"accountId"`
	Timezone  string        `json:"timezone"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Buckets   []DailyRollup `json:"buckets"`
	Stats     RunStats      `json:"stats"`
	Errors    []string      `json:"errors"`
}

type StoredRollup struct {
	Date                  string    `json:"date"`
	GrossSales            string    `json:"grossSales"`
	TotalPriceSum         string    `json:"totalPriceSum"`
	RefundAmount          string    `json:"refundAmount"`
	DiscountAmount        string    `json:"discountAmount"`
	OrderCount            int       `json:"orderCount"`
	CancelledOrderCount   int       `json:"cancelledOrderCount"`
	NetSalesAfterDiscount string    `json:"netSalesAfterDiscount"`
	NetSalesAfterRefund   string    `json:"netSalesAfterRefund"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

type StoredRollupsResponse struct {
	AccountId string         `json:"accountId"`
	StartDate string         `json:"startDate"`
	EndDate   string         `json:"endDate"`
	Rollups   []StoredRollup `json:"rollups"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

func ConvertDailyBucket(b *entity.DailyBucket) DailyRollup {
	orders := b.Orders
	if orders == nil {
		orders = []entity.Order{}
	}
	return DailyRollup{
		Date:                  b.Date,
		GrossSales:            money(b.GrossSales),
		TotalPriceSum:         money(b.TotalPriceSum),
		RefundAmount:          money(b.RefundAmount),
		DiscountAmount:        money(b.DiscountAmount),
		OrderCount:            b.OrderCount,
		CancelledOrderCount:   b.CancelledOrderCount,
		NetSalesAfterDiscount: money(b.NetSalesAfterDiscount),
		NetSalesAfterRefund:   money(b.NetSalesAfterRefund),
		Orders:                orders,
	}
}

func ConvertReconciliationResult(res *entity.ReconciliationResult) *ReconciliationResponse {
	if res == nil {
		return nil
	}
	resp := &ReconciliationResponse{
		RunId:     res.RunId,
		AccountId: res.AccountId,
		Timezone:  res.Timezone,
		StartDate: res.StartDate,
		EndDate:   res.EndDate,
		Buckets:   make([]DailyRollup, 0, len(res.Buckets)),
		Stats: RunStats{
			Windows:           res.Stats.Windows,
			OrdersFetched:     res.Stats.Fetched,
			OrdersNormal:      res.Stats.Normal,
			OrdersCancelled:   res.Stats.Cancelled,
			OrdersTest:        res.Stats.Test,
			Duplicates:        res.Stats.Duplicates,
			OutOfRange:        res.Stats.OutOfRange,
			Refunds:           res.Stats.Refunds,
			RefundsOutOfRange: res.Stats.RefundsOutOfRange,
		},
		Errors: make([]string, 0, len(res.Errors)),
	}
	for i := range res.Buckets {
		resp.Buckets = append(resp.Buckets, ConvertDailyBucket(&res.Buckets[i]))
	}
	for _, err := range res.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	return resp
}

func ConvertStoredRollups(accountId, startDate, endDate string, rollups []entity.StoredDailyRollup) *StoredRollupsResponse {
	resp := &StoredRollupsResponse{
		AccountId: accountId,
		StartDate: startDate,
		EndDate:   endDate,
		Rollups:   make([]StoredRollup, 0, len(rollups)),
	}
	for _, r := range rollups {
		resp.Rollups = append(resp.Rollups, StoredRollup{
			Date:                  r.Date,
			GrossSales:            money(r.GrossSales),
			TotalPriceSum:         money(r.TotalPriceSum),
			RefundAmount:          money(r.RefundAmount),
			DiscountAmount:        money(r.DiscountAmount),
			OrderCount:            r.OrderCount,
			CancelledOrderCount:   r.CancelledOrderCount,
			NetSalesAfterDiscount: money(r.NetSalesAfterDiscount),
			NetSalesAfterRefund:   money(r.NetSalesAfterRefund),
			UpdatedAt:             r.UpdatedAt,
		})
	}
	return resp
}

type RollupRun struct {
	RunId         string    `json:"runId"`
	AccountId     string    `json:"accountId"`
	StartDate     string    `json:"startDate"`
	EndDate       string    `json:"endDate"`
	State         string    `json:"state"`
	OrdersFetched int       `json:"ordersFetched"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

func ConvertRollupRun(run *entity.RollupRun) *RollupRun {
	return &RollupRun{
		RunId:         run.RunId,
		AccountId:     run.AccountId,
		StartDate:     run.StartDate,
		EndDate:       run.EndDate,
		State:         string(run.State),
		OrdersFetched: run.OrdersFetched,
		Error:         run.ErrorMsg,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}
