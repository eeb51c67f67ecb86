// Package events defines the deal event envelope shared by the producer in
// crm-service and the consumer in activity-service.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DealTopic = "deal-events"

type DealEventType string

const (
	DealCreated  DealEventType = "created"
	DealUpdated  DealEventType = "updated"
	DealMoved    DealEventType = "moved"
	DealWon      DealEventType = "won"
	DealLost     DealEventType = "lost"
	DealReopened DealEventType = "reopened"
	DealDeleted  DealEventType = "deleted"
)

var dealEventTypes = map[DealEventType]struct{}{
	DealCreated: {}, DealUpdated: {}, DealMoved: {}, DealWon: {}, DealLost: {}, DealReopened: {}, DealDeleted: {},
}

func (t DealEventType) Valid() bool {
	_, ok := dealEventTypes[t]
	return ok
}

// DealEvent is the message value published for every deal mutation.
type DealEvent struct {
	Type        DealEventType   `json:"type"`
	DealID      string          `json:"dealId"`
	ActorID     int64           `json:"actorId"`
	FromStageID string          `json:"fromStageId,omitempty"`
	ToStageID   string          `json:"toStageId,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Deal        json.RawMessage `json:"deal,omitempty"`
}

// Key returns the message key, "deal.<type>.<id>".
func Key(t DealEventType, dealID string) string {
	return fmt.Sprintf("deal.%s.%s", t, dealID)
}

// ParseKey splits a "deal.<type>.<id>" key. Deal ids may not contain dots.
func ParseKey(key string) (DealEventType, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "deal" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed deal event key %q", key)
	}
	t := DealEventType(parts[1])
	if !t.Valid() {
		return "", "", fmt.Errorf("unknown deal event type %q", parts[1])
	}
	return t, parts[2], nil
}
