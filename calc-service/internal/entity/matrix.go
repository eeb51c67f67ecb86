package entity

import (
	"encoding/json"
	"time"

	"auction-logistics/calc"
)

// MatrixOverride is an admin replacement for one embedded matrix section.
type MatrixOverride struct {
	Kind      calc.Kind       `json:"kind"`
	Rows      json.RawMessage `json:"rows"`
	Version   int64           `json:"version"`
	UpdatedBy int64           `json:"updatedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MatrixSource tells where the rows served for a kind came from.
type MatrixSource string

const (
	SourceDefault  MatrixSource = "default"
	SourceOverride MatrixSource = "override"
)

// MatrixView is what GET /calc/matrices/:kind returns. Version is zero for
// the embedded default.
type MatrixView struct {
	Kind    calc.Kind    `json:"kind"`
	Source  MatrixSource `json:"source"`
	Version int64        `json:"version"`
	Rows    any          `json:"rows"`
}
