// Package notification hands order events to the notification collaborator.
// Events are written to the outbox with the state change and relayed from there,
// so a broker outage never rolls back an order.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is one event ready for delivery
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher delivers messages to the notification collaborator
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// ParseBrokers splits a comma-separated broker list, dropping blanks
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaPublisher writes messages to Kafka, keyed by order id so events for one order stay ordered
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for brokers; the topic comes from each message
func NewKafkaPublisher(brokers []string, writeTimeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: writeTimeout,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, kafka.Message{
			Topic: m.Topic,
			Key:   []byte(m.Key),
			Value: m.Payload,
			Time:  time.Now().UTC(),
		})
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of sending them; used when no broker is configured
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		p.logger.Info("Order event",
			zap.String("topic", m.Topic),
			zap.String("key", m.Key),
			zap.ByteString("payload", m.Payload),
		)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
