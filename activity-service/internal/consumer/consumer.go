package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/xerrors"
)

var logger = logging.Component("activity-consumer")

// MessageReader is the part of *kafka.Reader the consumer needs. Offsets are
// committed explicitly once a message is stored or deliberately skipped.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Recorder stores one deal event.
type Recorder interface {
	Record(ctx context.Context, ev events.DealEvent, source string) error
}

type Consumer struct {
	reader   MessageReader
	recorder Recorder
	backoff  time.Duration
}

func NewConsumer(reader MessageReader, recorder Recorder) *Consumer {
	return &Consumer{reader: reader, recorder: recorder, backoff: time.Second}
}

// Run reads deal events until ctx is cancelled. A message is committed only
// after it has been recorded or skipped as malformed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("Error reading message")
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		if !c.processMessage(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Error committing message")
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// processMessage stores one message, retrying storage failures until they
// succeed. Malformed messages are logged and skipped so they cannot block the
// partition. It returns false only when ctx ends first.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	// key -> "deal.created.<id>" or "deal.won.<id>"
	typ, dealID, err := events.ParseKey(string(msg.Key))
	if err != nil {
		logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping message with malformed key")
		return true
	}

	var ev events.DealEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Warn().Err(err).Str("deal", dealID).Msg("skipping message with malformed payload")
		return true
	}
	if ev.DealID != "" && ev.DealID != dealID {
		logger.Warn().Str("key", dealID).Str("payload", ev.DealID).Msg("skipping message with mismatched deal id")
		return true
	}
	ev.Type, ev.DealID = typ, dealID

	source := fmt.Sprintf("%d:%d", msg.Partition, msg.Offset)
	for {
		err := c.recorder.Record(ctx, ev, source)
		if err == nil {
			return true
		}
		if errors.Is(err, xerrors.ErrInvalidInput) {
			logger.Warn().Err(err).Str("deal", dealID).Msg("skipping invalid event")
			return true
		}
		logger.Error().Err(err).Str("deal", dealID).Str("type", string(typ)).Msg("Error recording activity, retrying")
		if !c.wait(ctx) {
			return false
		}
	}
}
