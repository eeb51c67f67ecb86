package calc

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type ShippingInput struct {
	ShipperID   string      `json:"shipperId" validate:"required"`
	FromPortID  string      `json:"fromPortId" validate:"required"`
	ToPortID    string      `json:"toPortId" validate:"required"`
	VehicleType VehicleType `json:"vehicleType" validate:"required,oneof=sedan suv pickup van motorcycle oversize"`
}

func CalculateShippingPrice(m Matrices, in ShippingInput) PriceResult {
	if err := validateInput(in); err != nil {
		return failed(err.Code)
	}

	rule, ok := lo.Find(m.Shipping, func(r ShippingRule) bool {
		return r.ShipperID == in.ShipperID && r.FromPortID == in.FromPortID && r.ToPortID == in.ToPortID
	})
	if !ok {
		return failed(CodeShippingRuleNotFound)
	}
	price, ok := rule.VehicleTypePrices[in.VehicleType]
	if !ok {
		return failed(CodeShippingPriceNotFound)
	}
	return PriceResult{Price: round2(price)}
}

// ShippingPrice is CalculateShippingPrice for callers that want an error.
func ShippingPrice(m Matrices, in ShippingInput) (decimal.Decimal, error) {
	res := CalculateShippingPrice(m, in)
	if !res.OK() {
		return decimal.Zero, &Error{Code: res.ErrorCode, Msg: Message(res.ErrorCode)}
	}
	return res.Price, nil
}
