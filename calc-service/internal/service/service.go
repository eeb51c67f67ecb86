package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/entity"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/xerrors"
)

var logger = logging.Component("calc-service")

var calculationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "calc_calculations_total",
		Help: "Total number of calculations by kind and result code",
	},
	[]string{"kind", "result"},
)

const cacheTTL = 10 * time.Minute

// MatrixStore persists matrix overrides.
type MatrixStore interface {
	GetOverride(ctx context.Context, kind calc.Kind) (*entity.MatrixOverride, error)
	ListOverrides(ctx context.Context) ([]entity.MatrixOverride, error)
	SaveOverride(ctx context.Context, o *entity.MatrixOverride, expectedVersion int64) error
	DeleteOverride(ctx context.Context, kind calc.Kind) error
}

// CalcService prices requests against the effective matrices: embedded
// defaults with any stored overrides applied.
type CalcService struct {
	store    MatrixStore
	rdb      *redis.Client
	defaults calc.Matrices
}

// NewCalcService creates a new instance of CalcService. store and rdb may be
// nil, in which case overrides are unavailable or uncached.
func NewCalcService(store MatrixStore, rdb *redis.Client, defaults calc.Matrices) *CalcService {
	return &CalcService{store: store, rdb: rdb, defaults: defaults}
}

func cacheKey(kind calc.Kind) string {
	return fmt.Sprintf("calc:matrix:%s", kind)
}

// cachedOverride is what the cache holds per kind. Version zero records
// that no override exists.
type cachedOverride struct {
	Version int64           `json:"version"`
	Rows    json.RawMessage `json:"rows,omitempty"`
}

// override resolves one kind through redis, then the store.
func (s *CalcService) override(ctx context.Context, kind calc.Kind) (cachedOverride, error) {
	if s.store == nil {
		return cachedOverride{}, nil
	}

	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, cacheKey(kind)).Bytes()
		switch {
		case err == nil:
			var c cachedOverride
			if err := json.Unmarshal(data, &c); err == nil {
				return c, nil
			}
			logger.Warn().Str("kind", string(kind)).Msg("discarding corrupt matrix cache entry")
		case !errors.Is(err, redis.Nil):
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("could not read matrix cache")
		}
	}

	var c cachedOverride
	o, err := s.store.GetOverride(ctx, kind)
	switch {
	case err == nil:
		c = cachedOverride{Version: o.Version, Rows: o.Rows}
	case errors.Is(err, xerrors.ErrNotFound):
	default:
		return cachedOverride{}, fmt.Errorf("could not fetch %s override: %w", kind, err)
	}
	s.cache(ctx, kind, c)
	return c, nil
}

func (s *CalcService) cache(ctx context.Context, kind calc.Kind, c cachedOverride) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(kind), data, cacheTTL).Err(); err != nil {
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("could not write matrix cache")
	}
}

// Matrices returns the effective matrices.
func (s *CalcService) Matrices(ctx context.Context) (calc.Matrices, error) {
	m := s.defaults
	for _, kind := range calc.Kinds {
		c, err := s.override(ctx, kind)
		if err != nil {
			return calc.Matrices{}, err
		}
		if c.Version == 0 {
			continue
		}
		next, err := m.Replace(kind, c.Rows)
		if err != nil {
			// A stored override that no longer validates must not take pricing down.
			logger.Error().Err(err).Str("kind", string(kind)).Int64("version", c.Version).Msg("ignoring invalid matrix override")
			continue
		}
		m = next
	}
	return m, nil
}

func observe(kind string, code calc.ErrorCode) {
	result := "ok"
	if code != "" {
		result = string(code)
	}
	calculationsTotal.WithLabelValues(kind, result).Inc()
}

func (s *CalcService) Auction(ctx context.Context, in calc.AuctionInput) (*calc.AuctionFees, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return nil, err
	}
	fees, err := calc.CalculateAuctionFees(m, in)
	observe("auction", calc.CodeOf(err))
	return fees, err
}

func (s *CalcService) Towing(ctx context.Context, in calc.TowingInput) (calc.PriceResult, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return calc.PriceResult{}, err
	}
	res := calc.CalculateTowingPrice(m, in)
	observe("towing", res.ErrorCode)
	return res, nil
}

func (s *CalcService) Shipping(ctx context.Context, in calc.ShippingInput) (calc.PriceResult, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return calc.PriceResult{}, err
	}
	res := calc.CalculateShippingPrice(m, in)
	observe("shipping", res.ErrorCode)
	return res, nil
}

func (s *CalcService) Additional(ctx context.Context, in calc.AdditionalInput) (calc.PriceResult, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return calc.PriceResult{}, err
	}
	res := calc.CalculateAdditionalFees(m, in)
	observe("additional", res.ErrorCode)
	return res, nil
}

func (s *CalcService) Customs(ctx context.Context, in calc.CustomsInput) (*calc.CustomsResult, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return nil, err
	}
	res, err := calc.CalculateCustoms(m, in)
	observe("customs", calc.CodeOf(err))
	return res, err
}

func (s *CalcService) Total(ctx context.Context, in calc.TotalInput) (calc.TotalResult, error) {
	m, err := s.Matrices(ctx)
	if err != nil {
		return calc.TotalResult{}, err
	}
	res := calc.CalculateTotal(m, in)
	var code calc.ErrorCode
	if !res.OK() {
		code = res.ErrorCodes[0]
	}
	observe("total", code)
	return res, nil
}

// Quote combines auction fees, logistics and customs into a landed cost.
// Parts that cannot be priced are reported in ErrorCodes and left out of
// GrandTotal; only an invalid bid fails the whole quote.
func (s *CalcService) Quote(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
	if !req.Auction.Price.IsPositive() {
		return nil, &calc.Error{Code: calc.CodeInvalidInput, Msg: "auction price must be positive"}
	}
	m, err := s.Matrices(ctx)
	if err != nil {
		return nil, err
	}

	q := &entity.Quote{Bid: req.Auction.Price, ErrorCodes: []calc.ErrorCode{}}
	q.GrandTotal = q.Bid

	fees, err := calc.CalculateAuctionFees(m, req.Auction)
	if err != nil {
		q.ErrorCodes = append(q.ErrorCodes, calc.CodeOf(err))
	} else {
		q.Auction = fees
		q.GrandTotal = q.GrandTotal.Add(fees.Total)
	}

	q.Logistics = calc.CalculateTotal(m, req.Logistics)
	q.ErrorCodes = append(q.ErrorCodes, q.Logistics.ErrorCodes...)
	q.GrandTotal = q.GrandTotal.Add(q.Logistics.Total)

	// CIF depends on the shipping price, so customs is not estimated without it.
	switch {
	case req.Customs == nil:
	case !q.Logistics.Shipping.OK():
		q.ErrorCodes = append(q.ErrorCodes, calc.CodeCustomsNeedsShipping)
	default:
		customs, err := calc.CalculateCustoms(m, calc.CustomsInput{
			Country:       req.Customs.Country,
			VehiclePrice:  req.Auction.Price,
			ShippingCost:  q.Logistics.Shipping.Price,
			InsuranceCost: req.Customs.InsuranceCost,
			VehicleYear:   req.Customs.VehicleYear,
			FuelType:      req.Customs.FuelType,
			EngineCC:      req.Customs.EngineCC,
			ReferenceYear: req.Customs.ReferenceYear,
		})
		if err != nil {
			q.ErrorCodes = append(q.ErrorCodes, calc.CodeOf(err))
		} else {
			q.Customs = customs
			// CIF already holds the bid and shipping.
			q.GrandTotal = q.GrandTotal.Add(customs.Duty).Add(customs.VAT).Add(customs.ServiceFees)
		}
	}

	var code calc.ErrorCode
	if len(q.ErrorCodes) > 0 {
		code = q.ErrorCodes[0]
	}
	observe("quote", code)
	q.GrandTotal = q.GrandTotal.Round(2)
	return q, nil
}

// ListOverrides returns every stored override. Without a store the list is
// always empty.
func (s *CalcService) ListOverrides(ctx context.Context) ([]entity.MatrixOverride, error) {
	if s.store == nil {
		return []entity.MatrixOverride{}, nil
	}
	list, err := s.store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list matrix overrides: %w", err)
	}
	if list == nil {
		list = []entity.MatrixOverride{}
	}
	return list, nil
}

// GetMatrix returns the effective rows of kind and where they came from.
func (s *CalcService) GetMatrix(ctx context.Context, kind calc.Kind) (*entity.MatrixView, error) {
	c, err := s.override(ctx, kind)
	if err != nil {
		return nil, err
	}
	m := s.defaults
	view := &entity.MatrixView{Kind: kind, Source: entity.SourceDefault}
	if c.Version > 0 {
		next, err := m.Replace(kind, c.Rows)
		if err == nil {
			m = next
			view.Source, view.Version = entity.SourceOverride, c.Version
		}
	}
	view.Rows, err = m.Section(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrNotFound, err)
	}
	return view, nil
}

// PutMatrix validates rows against the defaults and stores them as the
// override of kind. expectedVersion is the version the caller last read,
// zero when replacing the default.
func (s *CalcService) PutMatrix(ctx context.Context, kind calc.Kind, rows json.RawMessage, expectedVersion, actor int64) (*entity.MatrixOverride, error) {
	if s.store == nil {
		return nil, fmt.Errorf("matrix overrides need a database: %w", xerrors.ErrUnavailable)
	}
	if _, err := s.defaults.Replace(kind, rows); err != nil {
		return nil, err
	}

	o := &entity.MatrixOverride{Kind: kind, Rows: rows, UpdatedBy: actor}
	if err := s.store.SaveOverride(ctx, o, expectedVersion); err != nil {
		return nil, err
	}
	s.cache(ctx, kind, cachedOverride{Version: o.Version, Rows: o.Rows})

	logger.Info().Str("kind", string(kind)).Int64("version", o.Version).Int64("actor", actor).Msg("matrix override saved")
	return o, nil
}

// ResetMatrix removes the override of kind.
func (s *CalcService) ResetMatrix(ctx context.Context, kind calc.Kind, actor int64) error {
	if s.store == nil {
		return fmt.Errorf("matrix overrides need a database: %w", xerrors.ErrUnavailable)
	}
	if err := s.store.DeleteOverride(ctx, kind); err != nil {
		return err
	}
	s.cache(ctx, kind, cachedOverride{})

	logger.Info().Str("kind", string(kind)).Int64("actor", actor).Msg("matrix override removed")
	return nil
}

// Errors returns the error dictionary.
func (s *CalcService) Errors() map[calc.ErrorCode]string {
	return calc.Messages()
}
