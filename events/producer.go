/*
Package events publishes committed settlement changes to Kafka.

PURPOSE:
  Downstream consumers (billing export, notifications, analytics) learn
  about modifications, payments, and settlement lifecycle changes from
  a single topic keyed by booking ID, so per-booking ordering is
  preserved within a partition.

  Publishing happens strictly after the database commit and is best
  effort; the services log a warning and move on when the broker is
  unreachable. The ledger, not the topic, is the source of truth.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/rental-engine/rental"
)

type Producer struct {
	writer *kafka.Writer
}

var _ rental.EventPublisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, event rental.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Key by booking so one booking's events stay ordered.
	message := kafka.Message{
		Key:   []byte(event.BookingID),
		Value: data,
		Time:  event.At,
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
