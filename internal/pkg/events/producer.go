package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/env"
)

const DefaultPaymentsTopic = "payments.events"

type Config struct {
	Brokers []string
	Topic   string
}

func ConfigFromEnv() Config {
	return Config{
		Brokers: env.GetEnvList("KAFKA_BROKERS"),
		Topic:   env.GetEnv("KAFKA_PAYMENTS_TOPIC", DefaultPaymentsTopic),
	}
}

func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// KafkaPublisher sends payment events to Kafka, keyed by user so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func InitProducer(brokers []string, log *zap.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return producer, nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultPaymentsTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev billing.PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.UserID), 10)),
		Value: sarama.ByteEncoder(eventJSON),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.EventType)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.Info("Payment event published",
		zap.String("topic", p.topic),
		zap.String("event_type", ev.EventType),
		zap.String("transaction_ref", ev.TransactionRef),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher is used when no brokers are configured. It only logs.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev billing.PaymentEvent) error {
	p.log.Debug("payment event",
		zap.String("event_type", ev.EventType),
		zap.String("transaction_ref", ev.TransactionRef),
		zap.Uint("user_id", ev.UserID),
		zap.String("status", ev.Status),
	)
	return nil
}
