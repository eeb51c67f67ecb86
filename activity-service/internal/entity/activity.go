package entity

import (
	"encoding/json"
	"time"

	"auction-logistics/internal/events"
)

// Activity is one entry of a deal's timeline, recorded from a deal event.
type Activity struct {
	ID          string               `json:"id"`
	DealID      string               `json:"dealId"`
	Type        events.DealEventType `json:"type"`
	ActorID     int64                `json:"actorId"`
	FromStageID string               `json:"fromStageId,omitempty"`
	ToStageID   string               `json:"toStageId,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	OccurredAt  time.Time            `json:"occurredAt"`
	// Source is "<partition>:<offset>" of the kafka message; redelivered
	// messages carry the same source and are stored once.
	Source string `json:"-"`
}
