package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the emitter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes events to a Kafka topic keyed by job id, so every
// event of one job lands on the same partition in order.
type KafkaEmitter struct {
	writer messageWriter
}

// NewKafkaEmitter returns an asynchronous emitter. Delivery errors are logged.
func NewKafkaEmitter(cfg config.EventsConfig) *KafkaEmitter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				slog.Warn("kafka event delivery failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaEmitter{writer: w}
}

func (k *KafkaEmitter) Emit(ctx context.Context, e Event) {
	msg, err := encode(e)
	if err != nil {
		slog.Warn("encode event", "job_id", e.JobID, "error", err)
		return
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("publish event", "job_id", e.JobID, "event", e.Type, "error", err)
	}
}

// Close flushes pending messages.
func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}

func encode(e Event) (kafka.Message, error) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.JobID),
		Value: b,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Type)},
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}

// New builds the emitter set from configuration: structured logs always,
// Kafka when brokers are configured. The returned func flushes and closes.
func New(cfg config.EventsConfig, logger *slog.Logger) (Emitter, func() error) {
	emitters := Multi{NewLogEmitter(logger)}
	if len(cfg.KafkaBrokers) == 0 {
		return emitters, func() error { return nil }
	}
	ke := NewKafkaEmitter(cfg)
	return append(emitters, ke), ke.Close
}
