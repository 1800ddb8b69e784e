package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/segmentio/kafka-go"
)

const EventRollupReconciled = "rollup.reconciled"

type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Topic:        EventRollupReconciled,
		WriteTimeout: 10 * time.Second,
	}
}

type DaySummary struct {
	Date                  string `json:"date"`
	OrderCount            int    `json:"orderCount"`
	CancelledOrderCount   int    `json:"cancelledOrderCount"`
	GrossSales            string `json:"grossSales"`
	DiscountAmount        string `json:"discountAmount"`
	RefundAmount          string `json:"refundAmount"`
	NetSalesAfterDiscount string `json:"netSalesAfterDiscount"`
	NetSalesAfterRefund   string `json:"netSalesAfterRefund"`
}

// RollupReconciled is published once per successful run, keyed by account.
type RollupReconciled struct {
	EventId      string       `json:"eventId"`
	EventType    string       `json:"eventType"`
	OccurredAt   time.Time    `json:"occurredAt"`
	RunId        string       `json:"runId"`
	AccountId    string       `json:"accountId"`
	Timezone     string       `json:"timezone"`
	StartDate    string       `json:"startDate"`
	EndDate      string       `json:"endDate"`
	RefundErrors int          `json:"refundErrors"`
	Days         []DaySummary `json:"days"`
}

func NewRollupReconciled(res *entity.ReconciliationResult, now time.Time) RollupReconciled {
	ev := RollupReconciled{
		EventId:      uuid.NewString(),
		EventType:    EventRollupReconciled,
		OccurredAt:   now.UTC(),
		RunId:        res.RunId,
		AccountId:    res.AccountId,
		Timezone:     res.Timezone,
		StartDate:    res.StartDate,
		EndDate:      res.EndDate,
		RefundErrors: len(res.Errors),
		Days:         make([]DaySummary, 0, len(res.Buckets)),
	}
	for _, b := range res.Buckets {
		ev.Days = append(ev.Days, DaySummary{
			Date:                  b.Date,
			OrderCount:            b.OrderCount,
			CancelledOrderCount:   b.CancelledOrderCount,
			GrossSales:            b.GrossSales.StringFixed(2),
			DiscountAmount:        b.DiscountAmount.StringFixed(2),
			RefundAmount:          b.RefundAmount.StringFixed(2),
			NetSalesAfterDiscount: b.NetSalesAfterDiscount.StringFixed(2),
			NetSalesAfterRefund:   b.NetSalesAfterRefund.StringFixed(2),
		})
	}
	return ev
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	now     func() time.Time
}

// New returns a Kafka publisher, or a no-op publisher when disabled.
func New(c *Config) (dependency.Publisher, error) {
	if !c.Enabled {
		slog.Default().Info("event publishing disabled")
		return Noop{}, nil
	}
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, c), nil
}

func newKafkaPublisher(w messageWriter, c *Config) *KafkaPublisher {
	topic := c.Topic
	if topic == "" {
		topic = EventRollupReconciled
	}
	timeout := c.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().WriteTimeout
	}
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		now:     time.Now,
	}
}

func (p *KafkaPublisher) PublishReconciled(ctx context.Context, res *entity.ReconciliationResult) error {
	payload, err := json.Marshal(NewRollupReconciled(res, p.now()))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(res.AccountId),
		Value: payload,
		Time:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish %s for run %s: %w", EventRollupReconciled, res.RunId, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishReconciled(context.Context, *entity.ReconciliationResult) error { return nil }

func (Noop) Close() error { return nil }
