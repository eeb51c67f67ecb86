package entity

import "github.com/shopspring/decimal"

type StageInput struct {
	// ID keeps an existing stage when updating a pipeline; empty adds one.
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,max=100"`
	Order       int    `json:"order" validate:"gte=0"`
	IsClosing   bool   `json:"isClosing"`
	IsLost      bool   `json:"isLost"`
	Probability int    `json:"probability" validate:"gte=0,lte=100"`
}

type PipelineInput struct {
	Name      string       `json:"name" validate:"required,max=100"`
	IsDefault bool         `json:"isDefault"`
	Stages    []StageInput `json:"stages" validate:"required,min=1,dive"`
}

type DealInput struct {
	Title        string          `json:"title" validate:"required,max=200"`
	PipelineID   string          `json:"pipelineId"`
	StageID      string          `json:"stageId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" validate:"omitempty,len=3,alpha"`
	ContactName  string          `json:"contactName" validate:"max=200"`
	ContactEmail string          `json:"contactEmail" validate:"omitempty,email"`
	VehicleVIN   string          `json:"vehicleVin" validate:"omitempty,len=17,alphanum"`
	OwnerID      int64           `json:"ownerId" validate:"gte=0"`
}

// DealPatch changes only the fields that are set. Version, when non-zero,
// must match the stored version.
type DealPatch struct {
	Version      int64            `json:"version" validate:"gte=0"`
	Title        *string          `json:"title" validate:"omitempty,min=1,max=200"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     *string          `json:"currency" validate:"omitempty,len=3,alpha"`
	ContactName  *string          `json:"contactName" validate:"omitempty,max=200"`
	ContactEmail *string          `json:"contactEmail" validate:"omitempty,email"`
	VehicleVIN   *string          `json:"vehicleVin" validate:"omitempty,len=17,alphanum"`
	OwnerID      *int64           `json:"ownerId" validate:"omitempty,gt=0"`
}

type MoveInput struct {
	StageID string `json:"stageId" validate:"required"`
	Version int64  `json:"version" validate:"gte=0"`
	// Reason is recorded when the target stage is a lost stage.
	Reason string `json:"reason" validate:"max=500"`
}

type CloseInput struct {
	Version int64  `json:"version" validate:"gte=0"`
	Reason  string `json:"reason" validate:"max=500"`
}

type ReopenInput struct {
	// StageID defaults to the pipeline's first open stage.
	StageID string `json:"stageId"`
	Version int64  `json:"version" validate:"gte=0"`
}
