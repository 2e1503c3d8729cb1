package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter abstracts the output stream.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes alerts to a topic keyed by symbol, so one symbol's
// alerts stay in one partition and in order.
type KafkaSink struct {
	writer KafkaWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

// NewKafkaSinkWriter wraps an existing writer.
func NewKafkaSinkWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Send implements Sink.
func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Symbol),
		Value: payload,
		Time:  a.At,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error { return s.writer.Close() }
