package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus publishes events to Kafka, one topic per event type.
type KafkaBus struct {
	writer *kafka.Writer
}

// NewKafkaBus constructs a bus writing to the provided brokers.
func NewKafkaBus(brokers []string, writeTimeout time.Duration) (*KafkaBus, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			cleaned = append(cleaned, broker)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("kafka bus: at least one broker is required")
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cleaned...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
		// The publisher owns retry policy; the writer performs single attempts.
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBus{writer: writer}, nil
}

// Publish writes a single keyed message to the topic.
func (b *KafkaBus) Publish(ctx context.Context, topic string, key []byte, value []byte) error {
	if b == nil || b.writer == nil {
		return errors.New("kafka bus: not initialised")
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (b *KafkaBus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// LogBus is the degraded-mode bus used when the broker is disabled or
// unconfigured: events are recorded in the structured log instead of being
// delivered, keeping local development and tests broker-free.
type LogBus struct {
	logger *zap.Logger
}

// NewLogBus constructs a logging bus.
func NewLogBus(logger *zap.Logger) *LogBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogBus{logger: logger}
}

// Publish records the event payload at info level.
func (b *LogBus) Publish(_ context.Context, topic string, key []byte, value []byte) error {
	b.logger.Info("event bus disabled; event logged",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.ByteString("event", value),
	)
	return nil
}
