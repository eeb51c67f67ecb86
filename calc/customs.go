package calc

import (
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type CustomsInput struct {
	Country       string          `json:"country" validate:"required"`
	VehiclePrice  decimal.Decimal `json:"vehiclePrice"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	InsuranceCost decimal.Decimal `json:"insuranceCost"`
	VehicleYear   int             `json:"vehicleYear" validate:"required,gte=1900"`
	FuelType      FuelType        `json:"fuelType" validate:"required,oneof=petrol diesel hybrid electric"`
	EngineCC      int             `json:"engineCc" validate:"gte=0"`
	// ReferenceYear is the year vehicle age is measured against; zero means
	// the current year.
	ReferenceYear int `json:"referenceYear,omitempty"`
}

type CustomsResult struct {
	Country     string          `json:"country"`
	CIF         decimal.Decimal `json:"cif"`
	DutyPct     decimal.Decimal `json:"dutyPct"`
	Duty        decimal.Decimal `json:"duty"`
	VAT         decimal.Decimal `json:"vat"`
	ServiceFees decimal.Decimal `json:"serviceFees"`
	Total       decimal.Decimal `json:"total"`
	Breakdown   []FeeLine       `json:"breakdown"`
}

// CalculateCustoms computes import duty, VAT and clearance fees. Every
// component is rounded to cents before summing, so Total always equals
// CIF + Duty + VAT + ServiceFees.
func CalculateCustoms(m Matrices, in CustomsInput) (*CustomsResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !in.VehiclePrice.IsPositive() || in.ShippingCost.IsNegative() || in.InsuranceCost.IsNegative() {
		return nil, newError(CodeInvalidInput, "vehicle price must be positive and costs non-negative")
	}

	rule, ok := lo.Find(m.Customs, func(r CustomsRule) bool {
		return strings.EqualFold(r.Country, in.Country)
	})
	if !ok {
		return nil, newError(CodeCustomsRuleNotFound, "country %s", in.Country)
	}

	refYear := in.ReferenceYear
	if refYear == 0 {
		refYear = time.Now().Year()
	}
	age := refYear - in.VehicleYear

	cif := round2(in.VehiclePrice.Add(in.ShippingCost).Add(in.InsuranceCost))

	dutyPct := rule.DutyPctDefault
	if pct, ok := rule.DutyPctByFuel[in.FuelType]; ok {
		dutyPct = pct
	}

	breakdown := []FeeLine{{Code: "cif", Label: "CIF value", Amount: cif}}
	duty := round2(percentOf(cif, dutyPct))
	breakdown = append(breakdown, FeeLine{Code: "duty", Label: "Import duty", Amount: duty})
	for _, s := range rule.Surcharges {
		if !s.matches(age, in.FuelType, in.EngineCC) {
			continue
		}
		amount := round2(percentOf(cif, s.Pct).Add(s.Flat))
		duty = duty.Add(amount)
		breakdown = append(breakdown, FeeLine{Code: s.Code, Label: s.Label, Amount: amount})
	}

	vat := round2(percentOf(cif.Add(duty), rule.VatPct))
	breakdown = append(breakdown, FeeLine{Code: "vat", Label: "VAT", Amount: vat})

	fees := decimal.Zero
	for _, f := range rule.ServiceFees {
		amount := round2(f.Amount)
		fees = fees.Add(amount)
		breakdown = append(breakdown, FeeLine{Code: f.Code, Label: f.Name, Amount: amount})
	}

	return &CustomsResult{
		Country:     rule.Country,
		CIF:         cif,
		DutyPct:     dutyPct,
		Duty:        duty,
		VAT:         vat,
		ServiceFees: fees,
		Total:       cif.Add(duty).Add(vat).Add(fees),
		Breakdown:   breakdown,
	}, nil
}

func (s Surcharge) matches(age int, fuel FuelType, engineCC int) bool {
	if s.MinAgeYears > 0 && age < s.MinAgeYears {
		return false
	}
	if len(s.FuelTypes) > 0 && !lo.Contains(s.FuelTypes, fuel) {
		return false
	}
	if s.MinEngineCC > 0 && engineCC < s.MinEngineCC {
		return false
	}
	return true
}
