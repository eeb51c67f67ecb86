package calc

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type AdditionalInput struct {
	ShipperID    string          `json:"shipperId" validate:"required"`
	VehiclePrice decimal.Decimal `json:"vehiclePrice"`
	Services     []string        `json:"services" validate:"dive,required"`
}

// CalculateAdditionalFees sums the mandatory fees for the shipper and every
// requested optional service.
func CalculateAdditionalFees(m Matrices, in AdditionalInput) PriceResult {
	if err := validateInput(in); err != nil {
		return failed(err.Code)
	}
	if in.VehiclePrice.IsNegative() {
		return failed(CodeInvalidInput)
	}

	applies := func(r AdditionalFeeRule) bool {
		return r.ShipperID == "" || r.ShipperID == in.ShipperID
	}

	var lines []FeeLine
	for _, r := range m.Additional {
		if r.Optional || !applies(r) {
			continue
		}
		lines = append(lines, additionalLine(r, in.VehiclePrice))
	}
	for _, code := range lo.Uniq(in.Services) {
		r, ok := lo.Find(m.Additional, func(r AdditionalFeeRule) bool {
			return r.Code == code && applies(r)
		})
		if !ok {
			return failed(CodeAdditionalFeeNotFound)
		}
		if !r.Optional {
			// already charged
			continue
		}
		lines = append(lines, additionalLine(r, in.VehiclePrice))
	}

	return PriceResult{Price: sumLines(lines), Breakdown: lines}
}

func additionalLine(r AdditionalFeeRule, vehiclePrice decimal.Decimal) FeeLine {
	amount := r.Amount
	if r.Kind == FeePercent {
		amount = percentOf(vehiclePrice, r.Amount)
		if amount.LessThan(r.Min) {
			amount = r.Min
		}
	}
	return FeeLine{Code: r.Code, Label: r.Name, Amount: round2(amount)}
}
