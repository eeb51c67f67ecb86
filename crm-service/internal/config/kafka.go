package config

import (
	"time"

	"github.com/segmentio/kafka-go"

	"auction-logistics/internal/platform/config"
)

// NewKafkaWriter returns a writer for the configured deal topic.
func NewKafkaWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           cfg.PublishTimeout,
		AllowAutoTopicCreation: true,
	}
}
