package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-engine/pkg/logger"

	kafkaGo "github.com/segmentio/kafka-go"
)

// EnsureTopics проверяет и при необходимости создает топики биллинга
func EnsureTopics(brokers []string, log *logger.Logger) error {
	required := []kafkaGo.TopicConfig{
		{
			Topic:             TopicSubscriptionEvents,
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
		{
			Topic:             TopicNotifications,
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
	}

	if len(brokers) == 0 || brokers[0] == "" {
		return errors.New("kafka broker address is empty")
	}

	connCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", brokers[0], "", 0)
	if err != nil {
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var toCreate []kafkaGo.TopicConfig
	for _, cfg := range required {
		if !existing[cfg.Topic] {
			toCreate = append(toCreate, cfg)
		}
	}
	if len(toCreate) == 0 {
		log.Debugw("All required Kafka topics already exist")
		return nil
	}

	if err := conn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("Kafka topics already existed during creation attempt")
			return nil
		}
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	names := make([]string, 0, len(toCreate))
	for _, cfg := range toCreate {
		names = append(names, cfg.Topic)
	}
	log.Infow("Created Kafka topics", "topics", names)
	return nil
}
