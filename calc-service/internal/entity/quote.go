package entity

import (
	"github.com/shopspring/decimal"

	"auction-logistics/calc"
)

// QuoteRequest asks for the landed cost of a vehicle: auction fees, the
// logistics total and, when a destination country is given, customs.
type QuoteRequest struct {
	Auction   calc.AuctionInput  `json:"auction"`
	Logistics calc.TotalInput    `json:"logistics"`
	Customs   *QuoteCustomsInput `json:"customs,omitempty"`
}

// QuoteCustomsInput is calc.CustomsInput without the amounts the quote
// already knows.
type QuoteCustomsInput struct {
	Country       string          `json:"country"`
	InsuranceCost decimal.Decimal `json:"insuranceCost"`
	VehicleYear   int             `json:"vehicleYear"`
	FuelType      calc.FuelType   `json:"fuelType"`
	EngineCC      int             `json:"engineCc"`
	ReferenceYear int             `json:"referenceYear,omitempty"`
}

// Quote is the landed cost breakdown. GrandTotal covers the bid and every
// part that could be priced; ErrorCodes lists the parts that could not.
type Quote struct {
	Bid        decimal.Decimal     `json:"bid"`
	Auction    *calc.AuctionFees   `json:"auction,omitempty"`
	Logistics  calc.TotalResult    `json:"logistics"`
	Customs    *calc.CustomsResult `json:"customs,omitempty"`
	GrandTotal decimal.Decimal     `json:"grandTotal"`
	ErrorCodes []calc.ErrorCode    `json:"errorCodes"`
}
