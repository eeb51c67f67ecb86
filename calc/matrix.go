package calc

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Kind names one replaceable section of Matrices.
type Kind string

const (
	KindAuctionFees        Kind = "auction-fees"
	KindTowing             Kind = "towing"
	KindShipping           Kind = "shipping"
	KindAdditional         Kind = "additional"
	KindCustoms            Kind = "customs"
	KindVehicleMultipliers Kind = "vehicle-multipliers"
)

// Kinds lists every section in load order.
var Kinds = []Kind{KindAuctionFees, KindTowing, KindShipping, KindAdditional, KindCustoms, KindVehicleMultipliers}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, lo.Contains(Kinds, k)
}

// Bracket prices bids in [Min, Max]. A zero Max leaves the bracket open.
type Bracket struct {
	Min decimal.Decimal `json:"min" yaml:"min"`
	Max decimal.Decimal `json:"max" yaml:"max"`
	Fee decimal.Decimal `json:"fee" yaml:"fee"`
	Pct decimal.Decimal `json:"pct" yaml:"pct"`
}

func (b Bracket) contains(price decimal.Decimal) bool {
	if price.LessThan(b.Min) {
		return false
	}
	return b.Max.IsZero() || price.LessThanOrEqual(b.Max)
}

type FeeMatrix struct {
	Auction             Auction         `json:"auction" yaml:"auction"`
	AccountType         AccountType     `json:"accountType" yaml:"accountType"`
	Title               TitleType       `json:"title" yaml:"title"`
	Payment             PaymentType     `json:"payment" yaml:"payment"`
	Brackets            []Bracket       `json:"brackets" yaml:"brackets"`
	DocumentationFee    decimal.Decimal `json:"documentationFee" yaml:"documentationFee"`
	GateFee             decimal.Decimal `json:"gateFee" yaml:"gateFee"`
	InternetBidPct      decimal.Decimal `json:"internetBidPct" yaml:"internetBidPct"`
	InternetBidMin      decimal.Decimal `json:"internetBidMin" yaml:"internetBidMin"`
	InternetBidMax      decimal.Decimal `json:"internetBidMax" yaml:"internetBidMax"`
	NonCleanTitleFee    decimal.Decimal `json:"nonCleanTitleFee" yaml:"nonCleanTitleFee"`
	UnsecuredPaymentFee decimal.Decimal `json:"unsecuredPaymentFee" yaml:"unsecuredPaymentFee"`
}

type TowingRuleType string

const (
	TowingFlat       TowingRuleType = "flat"
	TowingCategory   TowingRuleType = "category"
	TowingMultiplier TowingRuleType = "multiplier"
	TowingPortMatrix TowingRuleType = "port-matrix"
)

type TowingRule struct {
	ShipperID        string                          `json:"shipperId" yaml:"shipperId"`
	LocationID       string                          `json:"locationId" yaml:"locationId"`
	RuleType         TowingRuleType                  `json:"ruleType" yaml:"ruleType"`
	BasePrice        decimal.Decimal                 `json:"basePrice" yaml:"basePrice"`
	PerTypeData      map[VehicleType]decimal.Decimal `json:"perTypeData,omitempty" yaml:"perTypeData"`
	Multipliers      map[VehicleType]decimal.Decimal `json:"multipliers,omitempty" yaml:"multipliers"`
	DestinationPorts map[string]decimal.Decimal      `json:"destinationPorts,omitempty" yaml:"destinationPorts"`
}

type ShippingRule struct {
	ShipperID         string                          `json:"shipperId" yaml:"shipperId"`
	FromPortID        string                          `json:"fromPortId" yaml:"fromPortId"`
	ToPortID          string                          `json:"toPortId" yaml:"toPortId"`
	VehicleTypePrices map[VehicleType]decimal.Decimal `json:"vehicleTypePrices" yaml:"vehicleTypePrices"`
}

type FeeKind string

const (
	FeeFlat    FeeKind = "flat"
	FeePercent FeeKind = "percent"
)

// AdditionalFeeRule is a service charge. An empty ShipperID applies to every
// shipper.
type AdditionalFeeRule struct {
	Code      string          `json:"code" yaml:"code"`
	Name      string          `json:"name" yaml:"name"`
	Kind      FeeKind         `json:"kind" yaml:"kind"`
	Amount    decimal.Decimal `json:"amount" yaml:"amount"`
	Min       decimal.Decimal `json:"min" yaml:"min"`
	Optional  bool            `json:"optional" yaml:"optional"`
	ShipperID string          `json:"shipperId,omitempty" yaml:"shipperId"`
}

// Surcharge adds Pct of CIF plus Flat to the duty when every condition it
// sets holds.
type Surcharge struct {
	Code        string          `json:"code" yaml:"code"`
	Label       string          `json:"label" yaml:"label"`
	MinAgeYears int             `json:"minAgeYears,omitempty" yaml:"minAgeYears"`
	FuelTypes   []FuelType      `json:"fuelTypes,omitempty" yaml:"fuelTypes"`
	MinEngineCC int             `json:"minEngineCc,omitempty" yaml:"minEngineCc"`
	Pct         decimal.Decimal `json:"pct" yaml:"pct"`
	Flat        decimal.Decimal `json:"flat" yaml:"flat"`
}

type ServiceFee struct {
	Code   string          `json:"code" yaml:"code"`
	Name   string          `json:"name" yaml:"name"`
	Amount decimal.Decimal `json:"amount" yaml:"amount"`
}

type CustomsRule struct {
	Country        string                       `json:"country" yaml:"country"`
	VatPct         decimal.Decimal              `json:"vatPct" yaml:"vatPct"`
	DutyPctDefault decimal.Decimal              `json:"dutyPctDefault" yaml:"dutyPctDefault"`
	DutyPctByFuel  map[FuelType]decimal.Decimal `json:"dutyPctByFuel,omitempty" yaml:"dutyPctByFuel"`
	Surcharges     []Surcharge                  `json:"surcharges,omitempty" yaml:"surcharges"`
	ServiceFees    []ServiceFee                 `json:"serviceFees,omitempty" yaml:"serviceFees"`
}

// Matrices is the full set of lookup tables the calculators read. Values are
// never mutated in place; Replace returns a new Matrices.
type Matrices struct {
	AuctionFees        []FeeMatrix                     `json:"auctionFees"`
	Towing             []TowingRule                    `json:"towing"`
	Shipping           []ShippingRule                  `json:"shipping"`
	Additional         []AdditionalFeeRule             `json:"additional"`
	Customs            []CustomsRule                   `json:"customs"`
	VehicleMultipliers map[VehicleType]decimal.Decimal `json:"vehicleMultipliers"`
}

//go:embed data/*.yaml
var dataFS embed.FS

var dataFiles = map[Kind]string{
	KindAuctionFees:        "data/auction_fees.yaml",
	KindTowing:             "data/towing.yaml",
	KindShipping:           "data/shipping.yaml",
	KindAdditional:         "data/additional.yaml",
	KindCustoms:            "data/customs.yaml",
	KindVehicleMultipliers: "data/vehicle_multipliers.yaml",
}

var (
	defaultOnce     sync.Once
	defaultMatrices Matrices
	defaultErr      error
)

// DefaultMatrices returns the tables shipped with the binary.
func DefaultMatrices() (Matrices, error) {
	defaultOnce.Do(func() {
		defaultMatrices, defaultErr = loadEmbedded()
	})
	return defaultMatrices, defaultErr
}

// MustDefaultMatrices is DefaultMatrices for callers that cannot recover from
// a corrupt build.
func MustDefaultMatrices() Matrices {
	m, err := DefaultMatrices()
	if err != nil {
		panic(err)
	}
	return m
}

func loadEmbedded() (Matrices, error) {
	var m Matrices
	for _, kind := range Kinds {
		raw, err := dataFS.ReadFile(dataFiles[kind])
		if err != nil {
			return Matrices{}, fmt.Errorf("read %s: %w", kind, err)
		}
		if err := m.decode(kind, func(v any) error { return yaml.Unmarshal(raw, v) }); err != nil {
			return Matrices{}, fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	if err := m.Validate(); err != nil {
		return Matrices{}, err
	}
	return m, nil
}

// Every data file wraps its rows in a single top-level key so that YAML
// anchors can live next to the rows.
type auctionFile struct {
	Schedules []FeeMatrix `yaml:"schedules"`
}
type towingFile struct {
	Rules []TowingRule `yaml:"rules"`
}
type shippingFile struct {
	Routes []ShippingRule `yaml:"routes"`
}
type additionalFile struct {
	Fees []AdditionalFeeRule `yaml:"fees"`
}
type customsFile struct {
	Countries []CustomsRule `yaml:"countries"`
}
type multipliersFile struct {
	Multipliers map[VehicleType]decimal.Decimal `yaml:"multipliers"`
}

func (m *Matrices) decode(kind Kind, unmarshal func(any) error) error {
	switch kind {
	case KindAuctionFees:
		var f auctionFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.AuctionFees = f.Schedules
	case KindTowing:
		var f towingFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.Towing = f.Rules
	case KindShipping:
		var f shippingFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.Shipping = f.Routes
	case KindAdditional:
		var f additionalFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.Additional = f.Fees
	case KindCustoms:
		var f customsFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.Customs = f.Countries
	case KindVehicleMultipliers:
		var f multipliersFile
		if err := unmarshal(&f); err != nil {
			return err
		}
		m.VehicleMultipliers = f.Multipliers
	default:
		return fmt.Errorf("unknown matrix kind %q", kind)
	}
	return nil
}

// Section returns the rows of one kind, ready for JSON encoding.
func (m Matrices) Section(kind Kind) (any, error) {
	switch kind {
	case KindAuctionFees:
		return m.AuctionFees, nil
	case KindTowing:
		return m.Towing, nil
	case KindShipping:
		return m.Shipping, nil
	case KindAdditional:
		return m.Additional, nil
	case KindCustoms:
		return m.Customs, nil
	case KindVehicleMultipliers:
		return m.VehicleMultipliers, nil
	}
	return nil, fmt.Errorf("unknown matrix kind %q", kind)
}

// Replace returns a copy of m with the section of kind replaced by the JSON
// rows in payload. The result is validated before it is returned.
func (m Matrices) Replace(kind Kind, payload []byte) (Matrices, error) {
	next := m
	err := next.decode(kind, func(v any) error {
		return json.Unmarshal(payload, sectionTarget(v))
	})
	if err != nil {
		return Matrices{}, newError(CodeInvalidInput, "decode %s: %v", kind, err)
	}
	if err := next.Validate(); err != nil {
		return Matrices{}, err
	}
	return next, nil
}

// JSON payloads are the bare rows, without the file wrapper key.
func sectionTarget(wrapper any) any {
	switch f := wrapper.(type) {
	case *auctionFile:
		return &f.Schedules
	case *towingFile:
		return &f.Rules
	case *shippingFile:
		return &f.Routes
	case *additionalFile:
		return &f.Fees
	case *customsFile:
		return &f.Countries
	case *multipliersFile:
		return &f.Multipliers
	}
	return wrapper
}

// Validate checks structural invariants the calculators rely on.
func (m Matrices) Validate() error {
	for i, fm := range m.AuctionFees {
		if err := validateBrackets(fm.Brackets); err != nil {
			return newError(CodeInvalidInput, "auction fee schedule %d (%s/%s/%s/%s): %v",
				i, fm.Auction, fm.AccountType, fm.Title, fm.Payment, err)
		}
	}
	for i, r := range m.Towing {
		if r.ShipperID == "" || r.LocationID == "" {
			return newError(CodeInvalidInput, "towing rule %d: shipperId and locationId are required", i)
		}
		var ok bool
		switch r.RuleType {
		case TowingFlat, TowingMultiplier:
			ok = r.BasePrice.IsPositive()
		case TowingCategory:
			ok = len(r.PerTypeData) > 0
		case TowingPortMatrix:
			ok = len(r.DestinationPorts) > 0
		default:
			return newError(CodeTowingRuleTypeUnknown, "towing rule %d: rule type %q", i, r.RuleType)
		}
		if !ok {
			return newError(CodeInvalidInput, "towing rule %d (%s/%s): missing data for rule type %s",
				i, r.ShipperID, r.LocationID, r.RuleType)
		}
	}
	for i, r := range m.Shipping {
		if len(r.VehicleTypePrices) == 0 {
			return newError(CodeInvalidInput, "shipping route %d (%s %s->%s): no prices", i, r.ShipperID, r.FromPortID, r.ToPortID)
		}
	}
	for i, r := range m.Additional {
		if r.Code == "" || (r.Kind != FeeFlat && r.Kind != FeePercent) {
			return newError(CodeInvalidInput, "additional fee %d: code and kind flat|percent are required", i)
		}
	}
	for i, r := range m.Customs {
		if r.Country == "" {
			return newError(CodeInvalidInput, "customs rule %d: country is required", i)
		}
	}
	return nil
}

var cent = decimal.New(1, -2)

func validateBrackets(brackets []Bracket) error {
	if len(brackets) == 0 {
		return fmt.Errorf("no brackets")
	}
	for i, b := range brackets {
		open := b.Max.IsZero()
		if open && i != len(brackets)-1 {
			return fmt.Errorf("bracket %d is open-ended but not last", i)
		}
		if !open && b.Max.LessThan(b.Min) {
			return fmt.Errorf("bracket %d has max below min", i)
		}
		if i == 0 {
			continue
		}
		prev := brackets[i-1].Max
		if !b.Min.GreaterThan(prev) {
			return fmt.Errorf("bracket %d overlaps bracket %d", i, i-1)
		}
		// bids are whole cents, a wider gap leaves bids without a bracket
		if b.Min.Sub(prev).GreaterThan(cent) {
			return fmt.Errorf("bracket %d leaves a gap after bracket %d", i, i-1)
		}
	}
	return nil
}
