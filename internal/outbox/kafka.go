package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes each message to the topic TopicPrefix+AggregateType,
// keyed by aggregate id so one saga's messages stay ordered on a partition.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			WriteBackoffMin:        100 * time.Millisecond,
			WriteBackoffMax:        time.Second,
		},
		topicPrefix: topicPrefix,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	err := p.writer.WriteMessages(ctx, Message(p.topicPrefix, msg))
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message maps an outbox message onto its broker representation.
func Message(topicPrefix string, msg domain.OutboxMessage) kafka.Message {
	return kafka.Message{
		Topic: topicPrefix + msg.AggregateType,
		Key:   []byte(msg.AggregateID.String()),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(msg.EventType)},
			{Key: "outbox-id", Value: []byte(msg.ID.String())},
		},
		Time: msg.CreatedAt,
	}
}

// LogPublisher is used when no broker is configured; it only records the message.
type LogPublisher struct {
	Log func(msg domain.OutboxMessage)
}

func (p LogPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p.Log != nil {
		p.Log(msg)
	}
	return nil
}
