package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/entity"
	"auction-logistics/internal/platform/xerrors"
)

type fakeStore struct {
	mu        sync.Mutex
	overrides map[calc.Kind]entity.MatrixOverride
	gets      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{overrides: map[calc.Kind]entity.MatrixOverride{}}
}

func (f *fakeStore) GetOverride(ctx context.Context, kind calc.Kind) (*entity.MatrixOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	o, ok := f.overrides[kind]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &o, nil
}

func (f *fakeStore) ListOverrides(ctx context.Context) ([]entity.MatrixOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.MatrixOverride
	for _, kind := range calc.Kinds {
		if o, ok := f.overrides[kind]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveOverride(ctx context.Context, o *entity.MatrixOverride, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides[o.Kind].Version != expectedVersion {
		return xerrors.ErrConcurrentModification
	}
	o.Version = expectedVersion + 1
	f.overrides[o.Kind] = *o
	return nil
}

func (f *fakeStore) DeleteOverride(ctx context.Context, kind calc.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.overrides[kind]; !ok {
		return xerrors.ErrNotFound
	}
	delete(f.overrides, kind)
	return nil
}

func newTestService(t *testing.T) (*CalcService, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newFakeStore()
	return NewCalcService(store, rdb, calc.MustDefaultMatrices()), store, mr
}

const newarkTowing = `[{"shipperId":"atlantic-auto","locationId":"copart-newark-nj","ruleType":"flat","basePrice":"300"}]`

var newark = calc.TowingInput{ShipperID: "atlantic-auto", LocationID: "copart-newark-nj", VehicleType: calc.VehicleSedan}

func TestCalcService_DefaultsWithoutStore(t *testing.T) {
	s := NewCalcService(nil, nil, calc.MustDefaultMatrices())

	res, err := s.Towing(context.Background(), newark)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("225").Equal(res.Price))

	_, err = s.PutMatrix(context.Background(), calc.KindTowing, json.RawMessage(newarkTowing), 0, 1)
	assert.ErrorIs(t, err, xerrors.ErrUnavailable)
}

func TestCalcService_OverrideLifecycle(t *testing.T) {
	ctx := context.Background()
	s, store, mr := newTestService(t)

	view, err := s.GetMatrix(ctx, calc.KindTowing)
	require.NoError(t, err)
	assert.Equal(t, entity.SourceDefault, view.Source)
	assert.True(t, mr.Exists("calc:matrix:towing"), "misses are cached too")

	o, err := s.PutMatrix(ctx, calc.KindTowing, json.RawMessage(newarkTowing), 0, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, int64(7), store.overrides[calc.KindTowing].UpdatedBy)

	res, err := s.Towing(ctx, newark)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300").Equal(res.Price), "got %s", res.Price)

	// only the replaced section changes
	ship, err := s.Shipping(ctx, calc.ShippingInput{ShipperID: "atlantic-auto", FromPortID: "us-nwk", ToPortID: "de-brv", VehicleType: calc.VehicleSedan})
	require.NoError(t, err)
	assert.True(t, ship.OK())

	_, err = s.PutMatrix(ctx, calc.KindTowing, json.RawMessage(newarkTowing), 0, 7)
	assert.ErrorIs(t, err, xerrors.ErrConcurrentModification)

	view, err = s.GetMatrix(ctx, calc.KindTowing)
	require.NoError(t, err)
	assert.Equal(t, entity.SourceOverride, view.Source)
	assert.Equal(t, int64(1), view.Version)

	require.NoError(t, s.ResetMatrix(ctx, calc.KindTowing, 7))
	res, err = s.Towing(ctx, newark)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("225").Equal(res.Price))
}

func TestCalcService_ReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestService(t)

	_, err := s.Matrices(ctx)
	require.NoError(t, err)
	first := store.gets
	assert.Equal(t, len(calc.Kinds), first)

	_, err = s.Matrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, store.gets, "second read is served from redis")
}

func TestCalcService_RedisDownFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	s, store, mr := newTestService(t)
	store.overrides[calc.KindTowing] = entity.MatrixOverride{Kind: calc.KindTowing, Rows: json.RawMessage(newarkTowing), Version: 2}
	mr.Close()

	res, err := s.Towing(ctx, newark)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("300").Equal(res.Price))
}

func TestCalcService_InvalidStoredOverrideIsIgnored(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestService(t)
	store.overrides[calc.KindTowing] = entity.MatrixOverride{Kind: calc.KindTowing, Rows: json.RawMessage(`{broken`), Version: 1}

	res, err := s.Towing(ctx, newark)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("225").Equal(res.Price))
}

func TestCalcService_PutMatrixRejectsInvalidRows(t *testing.T) {
	s, store, _ := newTestService(t)

	_, err := s.PutMatrix(context.Background(), calc.KindTowing, json.RawMessage(`[{"shipperId":"s","locationId":"l","ruleType":"category"}]`), 0, 1)
	assert.Equal(t, calc.CodeInvalidInput, calc.CodeOf(err))
	assert.Empty(t, store.overrides)
}

func TestCalcService_Quote(t *testing.T) {
	s, _, _ := newTestService(t)

	q, err := s.Quote(context.Background(), entity.QuoteRequest{
		Auction: calc.AuctionInput{
			Auction: calc.AuctionCopart, AccountType: calc.AccountPublic, Title: calc.TitleClean,
			Payment: calc.PaymentSecured, Price: decimal.RequireFromString("5000"),
		},
		Logistics: calc.TotalInput{
			Towing:     newark,
			Shipping:   calc.ShippingInput{ShipperID: "atlantic-auto", FromPortID: "us-nwk", ToPortID: "de-brv", VehicleType: calc.VehicleSedan},
			Additional: calc.AdditionalInput{ShipperID: "atlantic-auto"},
		},
		Customs: &entity.QuoteCustomsInput{Country: "DE", VehicleYear: 2020, FuelType: calc.FuelElectric, ReferenceYear: 2025},
	})
	require.NoError(t, err)
	require.Empty(t, q.ErrorCodes)
	require.NotNil(t, q.Customs)

	// bid + auction fees + logistics + duty + vat + service fees
	want := q.Bid.Add(q.Auction.Total).Add(q.Logistics.Total).Add(q.Customs.Duty).Add(q.Customs.VAT).Add(q.Customs.ServiceFees)
	assert.True(t, want.Equal(q.GrandTotal), "%s != %s", want, q.GrandTotal)
	assert.True(t, q.Customs.CIF.Equal(decimal.RequireFromString("6050")), "cif is bid plus shipping, got %s", q.Customs.CIF)
}

func TestCalcService_QuotePartialFailure(t *testing.T) {
	s, _, _ := newTestService(t)

	q, err := s.Quote(context.Background(), entity.QuoteRequest{
		Auction: calc.AuctionInput{
			Auction: calc.AuctionCopart, AccountType: calc.AccountPublic, Title: calc.TitleClean,
			Payment: calc.PaymentSecured, Price: decimal.RequireFromString("1000"),
		},
		Logistics: calc.TotalInput{
			Towing:     calc.TowingInput{ShipperID: "atlantic-auto", LocationID: "nowhere", VehicleType: calc.VehicleSedan},
			Shipping:   calc.ShippingInput{ShipperID: "atlantic-auto", FromPortID: "us-nwk", ToPortID: "de-brv", VehicleType: calc.VehicleSedan},
			Additional: calc.AdditionalInput{ShipperID: "atlantic-auto"},
		},
		Customs: &entity.QuoteCustomsInput{Country: "XX", VehicleYear: 2020, FuelType: calc.FuelPetrol},
	})
	require.NoError(t, err)
	assert.Equal(t, []calc.ErrorCode{calc.CodeTowingRuleNotFound, calc.CodeCustomsRuleNotFound}, q.ErrorCodes)
	assert.Nil(t, q.Customs)

	_, err = s.Quote(context.Background(), entity.QuoteRequest{})
	assert.Equal(t, calc.CodeInvalidInput, calc.CodeOf(err))
}

func TestCalcService_QuoteSkipsCustomsWithoutShipping(t *testing.T) {
	s, _, _ := newTestService(t)

	req := entity.QuoteRequest{
		Auction: calc.AuctionInput{
			Auction: calc.AuctionCopart, AccountType: calc.AccountPublic, Title: calc.TitleClean,
			Payment: calc.PaymentSecured, Price: decimal.RequireFromString("1000"),
		},
		Logistics: calc.TotalInput{
			Towing:     calc.TowingInput{ShipperID: "atlantic-auto", LocationID: "copart-newark-nj", VehicleType: calc.VehicleSedan},
			Shipping:   calc.ShippingInput{ShipperID: "atlantic-auto", FromPortID: "de-brv", ToPortID: "us-nwk", VehicleType: calc.VehicleSedan},
			Additional: calc.AdditionalInput{ShipperID: "atlantic-auto"},
		},
		Customs: &entity.QuoteCustomsInput{Country: "DE", VehicleYear: 2020, FuelType: calc.FuelPetrol, EngineCC: 2000, ReferenceYear: 2025},
	}

	q, err := s.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []calc.ErrorCode{calc.CodeShippingRuleNotFound, calc.CodeCustomsNeedsShipping}, q.ErrorCodes)
	assert.Nil(t, q.Customs)
	// bid 1000 + auction fees 463 + towing 225 + additional 295
	assert.Equal(t, "1983", q.GrandTotal.String())

	req.Logistics.Shipping.FromPortID, req.Logistics.Shipping.ToPortID = "us-nwk", "de-brv"
	q, err = s.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, q.ErrorCodes)
	require.NotNil(t, q.Customs)
	assert.Equal(t, "2050", q.Customs.CIF.String())
}

func TestCalcService_ListOverrides(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	list, err := s.ListOverrides(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, err = s.PutMatrix(ctx, calc.KindTowing, json.RawMessage(newarkTowing), 0, 1)
	require.NoError(t, err)

	list, err = s.ListOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, calc.KindTowing, list[0].Kind)
	assert.Equal(t, int64(1), list[0].Version)

	list, err = NewCalcService(nil, nil, calc.MustDefaultMatrices()).ListOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
