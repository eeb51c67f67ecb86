package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeOpen Outcome = ""
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
)

// MarshalJSON writes an open outcome as null.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o == OutcomeOpen {
		return []byte("null"), nil
	}
	return json.Marshal(string(o))
}

type Deal struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	PipelineID   string          `json:"pipelineId"`
	StageID      string          `json:"stageId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ContactName  string          `json:"contactName"`
	ContactEmail string          `json:"contactEmail"`
	VehicleVIN   string          `json:"vehicleVin"`
	OwnerID      int64           `json:"ownerId"`
	Outcome      Outcome         `json:"outcome"`
	LostReason   string          `json:"lostReason,omitempty"`
	IsFrozen     bool            `json:"isFrozen"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ClosedAt     *time.Time      `json:"closedAt"`
}

// Frozen reports whether the deal has a terminal outcome.
func (d *Deal) Frozen() bool { return d.IsFrozen || d.Outcome != OutcomeOpen }

// Close sets the outcome and freezes the deal.
func (d *Deal) Close(outcome Outcome, reason string, at time.Time) {
	d.Outcome = outcome
	d.IsFrozen = true
	d.ClosedAt = &at
	if outcome == OutcomeLost {
		d.LostReason = reason
	}
}

// Reopen clears the outcome so the deal can move again.
func (d *Deal) Reopen() {
	d.Outcome = OutcomeOpen
	d.IsFrozen = false
	d.ClosedAt = nil
	d.LostReason = ""
}

// Clone returns a copy that shares no pointers with d.
func (d *Deal) Clone() *Deal {
	c := *d
	if d.ClosedAt != nil {
		t := *d.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

type DealFilter struct {
	PipelineID string
	StageID    string
	OwnerID    int64
	Outcome    *Outcome
	Limit      int
	Offset     int
}

// Matches applies the filter to one deal; used by the in-memory store.
func (f DealFilter) Matches(d *Deal) bool {
	switch {
	case f.PipelineID != "" && d.PipelineID != f.PipelineID:
		return false
	case f.StageID != "" && d.StageID != f.StageID:
		return false
	case f.OwnerID != 0 && d.OwnerID != f.OwnerID:
		return false
	case f.Outcome != nil && d.Outcome != *f.Outcome:
		return false
	}
	return true
}
