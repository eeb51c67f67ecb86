package config

import (
	"github.com/segmentio/kafka-go"

	"auction-logistics/internal/platform/config"
)

const defaultGroupID = "activity-service"

// NewKafkaReader returns a consumer-group reader for the deal topic.
func NewKafkaReader(cfg config.Kafka) *kafka.Reader {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  groupID,
		Topic:    cfg.Topic,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}
