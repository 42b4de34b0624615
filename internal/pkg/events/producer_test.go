package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omniai/payments/internal/pkg/billing"
)

func TestKafkaPublisherPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "payments.test", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var ev billing.PaymentEvent
		require.NoError(t, json.Unmarshal(value, &ev))
		assert.Equal(t, "payment.succeeded", ev.EventType)
		assert.Equal(t, "19.99", ev.Amount)

		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "event_type", string(msg.Headers[0].Key))
		return nil
	})

	pub := NewKafkaPublisher(producer, "payments.test", zaptest.NewLogger(t))
	err := pub.Publish(context.Background(), billing.PaymentEvent{
		EventType: "payment.succeeded",
		UserID:    7,
		Amount:    "19.99",
		Currency:  "USD",
		Status:    "succeeded",
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisher(producer, "", zaptest.NewLogger(t))
	assert.Equal(t, DefaultPaymentsTopic, pub.topic)

	err := pub.Publish(context.Background(), billing.PaymentEvent{EventType: "payment.failed", UserID: 1})
	assert.True(t, errors.Is(err, sarama.ErrOutOfBrokers))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisherCanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisher(producer, "payments.test", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, billing.PaymentEvent{EventType: "payment.failed"}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Brokers: []string{"kafka:9092"}}.Enabled())
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(zaptest.NewLogger(t))
	assert.NoError(t, pub.Publish(context.Background(), billing.PaymentEvent{EventType: "payment.succeeded"}))
}
