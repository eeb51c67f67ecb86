package calc

import "github.com/shopspring/decimal"

type TotalInput struct {
	Towing     TowingInput     `json:"towing"`
	Shipping   ShippingInput   `json:"shipping"`
	Additional AdditionalInput `json:"additional"`
}

type TotalResult struct {
	Towing     PriceResult     `json:"towing"`
	Shipping   PriceResult     `json:"shipping"`
	Additional PriceResult     `json:"additional"`
	Total      decimal.Decimal `json:"total"`
	ErrorCodes []ErrorCode     `json:"errorCodes"`
}

// OK reports whether every part was priced.
func (r TotalResult) OK() bool { return len(r.ErrorCodes) == 0 }

// CalculateTotal prices towing, shipping and additional fees and sums the
// parts that succeeded. Failed parts contribute their error code instead.
func CalculateTotal(m Matrices, in TotalInput) TotalResult {
	res := TotalResult{
		Towing:     CalculateTowingPrice(m, in.Towing),
		Shipping:   CalculateShippingPrice(m, in.Shipping),
		Additional: CalculateAdditionalFees(m, in.Additional),
		Total:      decimal.Zero,
		ErrorCodes: []ErrorCode{},
	}
	for _, part := range []PriceResult{res.Towing, res.Shipping, res.Additional} {
		if !part.OK() {
			res.ErrorCodes = append(res.ErrorCodes, part.ErrorCode)
			continue
		}
		res.Total = res.Total.Add(part.Price)
	}
	return res
}
