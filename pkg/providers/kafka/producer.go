// Package kafka publishes order events to a Kafka topic.
package kafka

import (
	"context"
	"errors"

	sdk "github.com/segmentio/kafka-go"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// MessageWriter is the subset of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...sdk.Message) error
	Close() error
}

// Producer writes keyed messages to one topic.
type Producer struct {
	writer MessageWriter
	topic  string
}

// NewProducer creates a Producer for topic. Messages with the same key land
// on the same partition.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, cloudfn.ErrValidation("at least one Kafka broker is required")
	}
	if topic == "" {
		return nil, cloudfn.ErrValidation("Kafka topic is required")
	}
	writer := &sdk.Writer{
		Addr:         sdk.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: sdk.RequireAll,
		Balancer:     &sdk.Hash{},
	}
	return NewProducerWithWriter(writer, topic), nil
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// Publish writes one message and waits for all in-sync replicas to acknowledge it.
func (p *Producer) Publish(ctx context.Context, key string, data []byte) error {
	err := p.writer.WriteMessages(ctx, sdk.Message{Key: []byte(key), Value: data})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cloudfn.ErrTimeout("kafka write timed out").WithResource("topic", p.topic).WithCause(err)
	}
	return cloudfn.ErrNetwork("kafka write failed").WithResource("topic", p.topic).WithCause(err)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
