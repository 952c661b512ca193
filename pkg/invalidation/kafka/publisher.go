package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/fogmap-area/internal/invalidation"
)

// Publisher sends journey events keyed by journey id, so all events of a
// journey land on one partition in order.
type Publisher struct {
	p     sarama.SyncProducer
	topic string
	log   *slog.Logger
}

func NewPublisher(cfg InvalidationConfig, log *slog.Logger) (*Publisher, error) {
	p, err := sarama.NewSyncProducer(cfg.Brokers, cfg.producerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisherWith(p, cfg.Topic, log), nil
}

// NewPublisherWith wraps an existing producer.
func NewPublisherWith(p sarama.SyncProducer, topic string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{p: p, topic: topic, log: log}
}

func (p *Publisher) Publish(ctx context.Context, ev invalidation.JourneyEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish encode: %w", err)
	}
	part, off, err := p.p.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(ev.JourneyID),
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.TS,
	})
	if err != nil {
		return fmt.Errorf("publish journey %q: %w", ev.JourneyID, err)
	}
	p.log.Debug("journey event published",
		"journey_id", ev.JourneyID, "op", ev.Op, "partition", part, "offset", off)
	return nil
}

func (p *Publisher) Close() error {
	if err := p.p.Close(); err != nil {
		return fmt.Errorf("kafka producer close: %w", err)
	}
	return nil
}
