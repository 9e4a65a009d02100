package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultNotificationTopic is the topic KafkaGateway publishes to when none
// is configured.
const DefaultNotificationTopic = "identity.notifications"

// Notification is the JSON payload KafkaGateway publishes. A downstream
// notification service performs the actual delivery.
type Notification struct {
	RequestID string    `json:"request_id"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"html_body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// KafkaGateway publishes messages to a notification topic. A successful
// publish counts as a successful delivery.
type KafkaGateway struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaGateway connects a SyncProducer to brokers with acks from all
// replicas and idempotent writes.
func NewKafkaGateway(brokers []string, topic string, logger *zap.Logger) (*KafkaGateway, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers must be set", goIdentity.ErrGatewayMisconfigured)
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return NewKafkaGatewayWithProducer(producer, topic, logger), nil
}

// NewKafkaGatewayWithProducer wraps an existing producer.
func NewKafkaGatewayWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaGateway {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaGateway{producer: producer, topic: topic, logger: logger}
}

func (g *KafkaGateway) Send(ctx context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	if len(msg.Recipient) < MinRecipientLength {
		return goIdentity.DeliveryResult{}, goIdentity.ErrInvalidRecipient
	}
	if err := ctx.Err(); err != nil {
		return goIdentity.DeliveryResult{}, err
	}

	n := Notification{
		RequestID: uuid.NewString(),
		Channel:   ChannelSMS,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		HTMLBody:  msg.HTMLBody,
		CreatedAt: time.Now().UTC(),
	}
	if goIdentity.ClassifyIdentifier(msg.Recipient) == goIdentity.IdentifierEmail {
		n.Channel = ChannelEmail
	}

	data, err := json.Marshal(n)
	if err != nil {
		return goIdentity.DeliveryResult{}, fmt.Errorf("kafka marshal: %w", err)
	}

	partition, offset, err := g.producer.SendMessage(&sarama.ProducerMessage{
		Topic: g.topic,
		Key:   sarama.StringEncoder(msg.Recipient),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		g.logger.Warn("kafka: publish failed",
			zap.String("topic", g.topic),
			zap.String("request_id", n.RequestID),
			zap.Error(err),
		)
		return goIdentity.DeliveryFailed(), nil
	}

	g.logger.Debug("kafka: notification published",
		zap.String("topic", g.topic),
		zap.String("request_id", n.RequestID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return goIdentity.DeliverySucceeded(), nil
}

func (g *KafkaGateway) Close() error {
	return g.producer.Close()
}
