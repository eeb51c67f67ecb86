package calc

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type TowingInput struct {
	ShipperID         string      `json:"shipperId" validate:"required"`
	LocationID        string      `json:"locationId" validate:"required"`
	VehicleType       VehicleType `json:"vehicleType" validate:"required,oneof=sedan suv pickup van motorcycle oversize"`
	DestinationPortID string      `json:"destinationPortId"`
}

// CalculateTowingPrice never fails: an unpriceable request yields a zero
// price with ErrorCode set.
func CalculateTowingPrice(m Matrices, in TowingInput) PriceResult {
	if err := validateInput(in); err != nil {
		return failed(err.Code)
	}

	rule, ok := lo.Find(m.Towing, func(r TowingRule) bool {
		return r.ShipperID == in.ShipperID && r.LocationID == in.LocationID
	})
	if !ok {
		return failed(CodeTowingRuleNotFound)
	}

	switch rule.RuleType {
	case TowingFlat:
		return PriceResult{Price: round2(rule.BasePrice)}
	case TowingMultiplier:
		factor, ok := rule.Multipliers[in.VehicleType]
		if !ok {
			factor, ok = m.VehicleMultipliers[in.VehicleType]
		}
		if !ok {
			factor = decimal.NewFromInt(1)
		}
		return PriceResult{Price: round2(rule.BasePrice.Mul(factor))}
	case TowingCategory:
		price, ok := rule.PerTypeData[in.VehicleType]
		if !ok {
			return failed(CodeTowingPriceNotFound)
		}
		return PriceResult{Price: round2(price)}
	case TowingPortMatrix:
		if in.DestinationPortID == "" {
			return failed(CodeInvalidInput)
		}
		price, ok := rule.DestinationPorts[in.DestinationPortID]
		if !ok {
			return failed(CodeTowingPortNotServed)
		}
		return PriceResult{Price: round2(price)}
	}
	return failed(CodeTowingRuleTypeUnknown)
}

// TowingPrice is CalculateTowingPrice for callers that want an error.
func TowingPrice(m Matrices, in TowingInput) (decimal.Decimal, error) {
	res := CalculateTowingPrice(m, in)
	if !res.OK() {
		return decimal.Zero, &Error{Code: res.ErrorCode, Msg: Message(res.ErrorCode)}
	}
	return res.Price, nil
}
