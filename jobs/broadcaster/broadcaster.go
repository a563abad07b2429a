// Package broadcaster drains the trade-event outbox to Kafka. The store
// gives at-least-once delivery across restarts: a record is marked SENT
// before the publish attempt and ACKED only after the broker confirms.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"matchbook/infra/store"
)

const drainInterval = 250 * time.Millisecond

type Broadcaster struct {
	st       *store.Store
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func New(st *store.Store, brokers []string, topic string, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		st:       st,
		producer: producer,
		topic:    topic,
		log:      log.Named("broadcaster"),
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("started", zap.String("topic", b.topic))
	go func() {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	// SENT records from a crashed run are retried alongside NEW ones.
	for _, state := range []store.OutboxState{store.StateSent, store.StateNew} {
		err := b.st.ScanOutbox(state, func(rec store.OutboxRecord) error {
			return b.deliver(rec)
		})
		if err != nil {
			b.log.Warn("outbox scan failed", zap.Error(err))
		}
	}
}

func (b *Broadcaster) deliver(rec store.OutboxRecord) error {
	if err := b.st.UpdateOutbox(rec, store.StateSent); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Value: sarama.ByteEncoder(rec.Payload),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		// stays SENT, retried on a later tick
		b.log.Warn("publish failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return nil
	}

	if err := b.st.UpdateOutbox(rec, store.StateAcked); err != nil {
		return err
	}
	return b.st.DeleteOutbox(rec.Seq)
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
