package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer used by KafkaSink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a topic. Messages are keyed by
// subject so events of one identity land on one partition in order.
type KafkaSink struct {
	writer      Writer
	minSeverity audit.Severity
}

// NewKafkaSink returns a sink writing to topic on brokers. Events below
// minSeverity are skipped; an empty minSeverity forwards everything.
//
// The writer is asynchronous: Emit hands the message to kafka-go's batcher
// and returns, so the single dispatcher goroutine never waits out a batch
// timeout. Delivery failures are logged from the completion callback.
func NewKafkaSink(brokers []string, topic string, minSeverity audit.Severity, logger *slog.Logger) *KafkaSink {
	return NewKafkaSinkWithWriter(newKafkaWriter(brokers, topic, logger), minSeverity)
}

func newKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Warn("security events not published",
				slog.String("component", "kafka_sink"),
				slog.String("topic", topic),
				slog.Int("messages", len(messages)),
				slog.Any("error", err),
			)
		},
	}
}

// NewKafkaSinkWithWriter allows injecting a writer.
func NewKafkaSinkWithWriter(w Writer, minSeverity audit.Severity) *KafkaSink {
	return &KafkaSink{writer: w, minSeverity: minSeverity}
}

func (k *KafkaSink) Emit(ctx context.Context, event audit.Event) error {
	if k.minSeverity != "" && event.Severity.Rank() < k.minSeverity.Rank() {
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka sink: encode event: %w", err)
	}

	key := event.UserID
	if key == "" {
		key = event.Identifier
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
