package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/Dhoini/Billing-engine/pkg/logger"

	"github.com/segmentio/kafka-go"
)

const (
	// TopicSubscriptionEvents события жизненного цикла подписок
	TopicSubscriptionEvents = "billing.subscription-events"

	// TopicNotifications уведомления пользователям, читает сервис рассылок
	TopicNotifications = "billing.notifications"

	writeTimeout = 15 * time.Second
)

// Producer публикует сообщения биллинга в Kafka
type Producer interface {
	// PublishSubscriptionEvent отправляет событие жизненного цикла.
	// Ключ сообщения SubscriptionID: события одной подписки попадают в одну
	// партицию и сохраняют порядок.
	PublishSubscriptionEvent(ctx context.Context, event domain.SubscriptionEvent) error

	// PublishNotification отправляет уведомление пользователю
	PublishNotification(ctx context.Context, n domain.Notification) error

	// Close закрывает соединение продюсера
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer создает и настраивает продюсер Kafka
func NewProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishSubscriptionEvent публикует событие жизненного цикла подписки
func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, event domain.SubscriptionEvent) error {
	return k.publish(ctx, TopicSubscriptionEvents, event.SubscriptionID.String(), event)
}

// PublishNotification публикует уведомление пользователю
func (k *kafkaProducer) PublishNotification(ctx context.Context, n domain.Notification) error {
	return k.publish(ctx, TopicNotifications, n.UserID.String(), n)
}

// publish сериализует и пишет одно сообщение с таймаутом
func (k *kafkaProducer) publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		k.log.Errorw("Failed to marshal Kafka message", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "topic", topic, "key", key, "error", err)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published message to Kafka", "topic", topic, "key", key)
	return nil
}

// Close закрывает Kafka Writer
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

// EventObserver возвращает наблюдателя событий подписок, публикующего
// их в Kafka. Публикация не должна блокировать смену статуса, поэтому
// ошибки только логируются.
func EventObserver(producer Producer, log *logger.Logger) func(event domain.SubscriptionEvent) {
	return func(event domain.SubscriptionEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := producer.PublishSubscriptionEvent(ctx, event); err != nil {
			log.Errorw("Failed to publish subscription event",
				"kind", string(event.Kind),
				"subscriptionID", event.SubscriptionID,
				"error", err,
			)
		}
	}
}

// Notifier доставляет уведомления через Kafka
type Notifier struct {
	producer Producer
	log      *logger.Logger
}

// NewNotifier создает Kafka-нотификатор
func NewNotifier(producer Producer, log *logger.Logger) *Notifier {
	return &Notifier{producer: producer, log: log}
}

// Notify публикует уведомление в топик рассылок
func (n *Notifier) Notify(ctx context.Context, notification domain.Notification) error {
	return n.producer.PublishNotification(ctx, notification)
}
