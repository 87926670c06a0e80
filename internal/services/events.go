package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/models"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventEnrollmentFailed = "enrollment.failed"
)

// Event is the envelope published for every payment-side fact
type Event struct {
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type PaymentCompletedData struct {
	TransactionRef string                `json:"transaction_ref"`
	Amount         decimal.Decimal       `json:"amount"`
	Currency       string                `json:"currency"`
	CourseID       string                `json:"course_id,omitempty"`
	UserID         string                `json:"user_id,omitempty"`
	Gateway        models.PaymentGateway `json:"gateway"`
	PaidAt         time.Time             `json:"paid_at"`
}

type EnrollmentFailedData struct {
	TransactionRef string `json:"transaction_ref"`
	CourseID       string `json:"course_id"`
	StudentID      string `json:"student_id,omitempty"`
	Reason         string `json:"reason"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by transaction ref,
// so every event of one payment lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	log.Printf("INFO: Kafka producer connected to %v (topic %s)", brokers, topic)
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}

	log.Printf("INFO: Published %s event for %s (partition %d, offset %d)", event.Type, event.Key, partition, offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher drops events; used when no brokers are configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }
