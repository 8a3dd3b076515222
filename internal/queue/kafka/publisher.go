// Package kafka publishes committed ledger events to a Kafka topic so
// downstream consumers can rebuild settlement history.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// NewWriter returns a writer that balances by least bytes and creates the
// topic on first use.
func NewWriter(cfg Config) *kafka.Writer {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           batch,
		RequiredAcks:           kafka.RequireAll,
	}
}

// messageWriter is the slice of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes domain.LedgerEvent values as JSON, keyed by market id so
// one market's events stay ordered within a partition.
type Publisher struct {
	w   messageWriter
	now func() time.Time
}

// NewPublisher wraps w.
func NewPublisher(w messageWriter) *Publisher {
	return &Publisher{w: w, now: time.Now}
}

// PublishLedgerEvent stamps and writes e.
func (p *Publisher) PublishLedgerEvent(ctx context.Context, e domain.LedgerEvent) error {
	if e.TsUnixMs == 0 {
		e.TsUnixMs = p.now().UnixMilli()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.MarketID),
		Value: b,
		Time:  time.UnixMilli(e.TsUnixMs),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s for %s: %w", e.Type, e.MarketID, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
