// Package events publishes upload notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/config"
)

// UploadEvent announces that a record group reached object storage.
type UploadEvent struct {
	Pipeline   string    `json:"pipeline"`
	StorageKey string    `json:"storage_key"`
	Bucket     string    `json:"bucket"`
	Records    int       `json:"records"`
	Products   int       `json:"products"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Notifier publishes upload events.
type Notifier interface {
	Notify(ctx context.Context, ev UploadEvent) error
	Close() error
}

// Nop discards every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Notify(context.Context, UploadEvent) error { return nil }
func (Nop) Close() error                              { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON-encoded upload events to a Kafka topic, keyed by
// storage key so events for one object land on one partition.
type Producer struct {
	writer messageWriter
	log    *zap.Logger
}

// NewProducer creates a Producer for the configured brokers and topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		log:    zap.L().With(zap.String("component", "events"), zap.String("topic", cfg.Topic)),
	}
}

// New returns a Kafka producer when brokers are configured, otherwise Nop.
func New(cfg config.KafkaConfig) Notifier {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewProducer(cfg)
}

// Notify serialises ev and writes it synchronously.
func (p *Producer) Notify(ctx context.Context, ev UploadEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal upload event")
	}
	msg := kafka.Message{
		Key:   []byte(ev.StorageKey),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish upload event", zap.String("key", ev.StorageKey), zap.Error(err))
		return eris.Wrap(err, "events: publish upload event")
	}
	p.log.Debug("upload event published", zap.String("key", ev.StorageKey), zap.Int("value_size", len(value)))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close writer")
}
