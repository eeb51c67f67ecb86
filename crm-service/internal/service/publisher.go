package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"auction-logistics/internal/events"
)

// EventPublisher delivers deal events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.DealEvent) error
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DefaultPublishTimeout bounds one Publish call when none is configured.
const DefaultPublishTimeout = 2 * time.Second

// KafkaPublisher writes events keyed "deal.<type>.<id>". Each write gives up
// after timeout so a broker outage delays a deal mutation by at most that much.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaPublisher(writer MessageWriter, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &KafkaPublisher{writer: writer, timeout: timeout}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev events.DealEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// deal.created.<id> or deal.won.<id>
	msg := kafka.Message{
		Key:   []byte(events.Key(ev.Type, ev.DealID)),
		Value: value,
		Time:  ev.OccurredAt,
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}
