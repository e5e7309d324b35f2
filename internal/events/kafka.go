package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/handoff-backend/internal/config"
)

// KafkaPublisher writes each event to the topic "<prefix>.<event type>",
// keyed by order id. Events of one type for one order stay in order; there
// is no ordering across topics.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *logrus.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, prefix string, logger *logrus.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KafkaPublisher{producer: producer, prefix: prefix, logger: logger}
}

// DialKafka connects a sync producer, retrying while the brokers come up.
func DialKafka(cfg config.KafkaConfig, attempts int, logger *logrus.Logger) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0

	var err error
	for i := 1; i <= attempts; i++ {
		var producer sarama.SyncProducer
		producer, err = sarama.NewSyncProducer(cfg.Brokers, sc)
		if err == nil {
			logger.WithField("brokers", cfg.Brokers).Info("Kafka producer initialized")
			return producer, nil
		}
		logger.WithError(err).Warnf("Waiting for Kafka (%d/%d)", i, attempts)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
}

// Topic is the event type under the configured prefix, e.g. handoff.token.redeemed.
func (p *KafkaPublisher) Topic(t Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.Topic(event.Type),
		Key:   sarama.StringEncoder(event.OrderID.String()),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":    msg.Topic,
			"order_id": event.OrderID,
		}).Error("Failed to publish event")
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  event.OrderID,
	}).Debug("Published event")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
