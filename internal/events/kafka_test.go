package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaTopic(t *testing.T) {
	assert.Equal(t, "handoff.token.redeemed", NewKafkaPublisher(nil, "handoff", nil).Topic(TokenRedeemed))
	assert.Equal(t, "token.redeemed", NewKafkaPublisher(nil, "", nil).Topic(TokenRedeemed))
}

func TestKafkaPublishEncodesEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	event := New(OrderTransitioned, uuid.New(), map[string]interface{}{"to": "picked_up"})

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded Event
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded.ID != event.ID || decoded.OrderID != event.OrderID {
			return fmt.Errorf("unexpected event %s for order %s", decoded.ID, decoded.OrderID)
		}
		return nil
	})

	publisher := NewKafkaPublisher(producer, "handoff", quietLogger())
	require.NoError(t, publisher.Publish(context.Background(), event))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublishFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisher(producer, "handoff", quietLogger())
	err := publisher.Publish(context.Background(), New(LedgerPosted, uuid.New(), nil))

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, publisher.Close())
}
