// Package calc prices vehicle logistics: auction fees, towing, ocean
// shipping, additional services and customs clearance. Every calculator is a
// pure function over a Matrices value.
package calc

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type VehicleType string

const (
	VehicleSedan      VehicleType = "sedan"
	VehicleSUV        VehicleType = "suv"
	VehiclePickup     VehicleType = "pickup"
	VehicleVan        VehicleType = "van"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleOversize   VehicleType = "oversize"
)

// VehicleTypes lists every supported vehicle type.
var VehicleTypes = []VehicleType{
	VehicleSedan, VehicleSUV, VehiclePickup, VehicleVan, VehicleMotorcycle, VehicleOversize,
}

type Auction string

const (
	AuctionCopart Auction = "copart"
	AuctionIAAI   Auction = "iaai"
)

type AccountType string

const (
	AccountPublic AccountType = "public"
	AccountDealer AccountType = "dealer"
)

type TitleType string

const (
	TitleClean   TitleType = "clean"
	TitleSalvage TitleType = "salvage"
)

type PaymentType string

const (
	PaymentSecured   PaymentType = "secured"
	PaymentUnsecured PaymentType = "unsecured"
)

type FuelType string

const (
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelHybrid   FuelType = "hybrid"
	FuelElectric FuelType = "electric"
)

// FeeLine is one entry of a price breakdown.
type FeeLine struct {
	Code   string          `json:"code"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// PriceResult is the non-failing result shape: Price is zero whenever
// ErrorCode is set.
type PriceResult struct {
	Price     decimal.Decimal `json:"price"`
	ErrorCode ErrorCode       `json:"errorCode,omitempty"`
	Breakdown []FeeLine       `json:"breakdown,omitempty"`
}

// OK reports whether the result carries a price.
func (r PriceResult) OK() bool { return r.ErrorCode == "" }

func failed(code ErrorCode) PriceResult {
	return PriceResult{Price: decimal.Zero, ErrorCode: code}
}

var hundred = decimal.NewFromInt(100)

// round2 rounds half away from zero to cents.
func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

func sumLines(lines []FeeLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateInput(in any) *Error {
	if err := validate.Struct(in); err != nil {
		return &Error{Code: CodeInvalidInput, Msg: err.Error()}
	}
	return nil
}
