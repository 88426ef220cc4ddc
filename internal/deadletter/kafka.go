package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka appends dead-letter records to a Kafka topic keyed by domain.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a Kafka sink for the given brokers and topic.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
	}, nil
}

// NewKafkaWithWriter builds a sink using a custom writer (tests).
func NewKafkaWithWriter(writer messageWriter) *Kafka {
	return &Kafka{writer: writer}
}

// Record implements crawler.DeadLetterRecorder.
func (k *Kafka) Record(ctx context.Context, rec crawler.DeadLetterRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.Domain),
		Value: payload,
		Time:  rec.RecordedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
