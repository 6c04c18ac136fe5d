package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"kasirinaja/settlement/internal/domain"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "settlement-service"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 5 * time.Second
	return config
}

// NewKafkaPublisher dials the brokers once; the caller decides whether a
// failure is fatal.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish keys messages by settlement id so that every event of one
// settlement lands on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SettlementEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SettlementID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", event.Type, err)
	}
	slog.DebugContext(ctx, "[events] published", "type", event.Type, "payment_id", event.SettlementID, "partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
