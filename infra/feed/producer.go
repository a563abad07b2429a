// Package feed publishes live market data to Kafka: best-bid/ask ticks
// and trade prints. Delivery here is best effort; the durable path for
// trade events is the outbox drained by the broadcaster job.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Tick is one top-of-book observation.
type Tick struct {
	Instrument string `json:"instrument"`
	Bid        int64  `json:"bid"`
	Ask        int64  `json:"ask"`
	HasBid     bool   `json:"has_bid"`
	HasAsk     bool   `json:"has_ask"`
	Time       int64  `json:"ts"`
}

func (p *Producer) PublishTick(ctx context.Context, t Tick) error {
	value, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Instrument),
		Value: value,
	})
}

// Publish sends an opaque payload keyed by instrument.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
