package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/crm-service/internal/repository"
	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

var (
	viewer  = auth.Principal{UserID: 1, Role: auth.RoleViewer}
	seller  = auth.Principal{UserID: 2, Role: auth.RoleSales}
	other   = auth.Principal{UserID: 3, Role: auth.RoleSales}
	manager = auth.Principal{UserID: 4, Role: auth.RoleManager}
)

type fakeWriter struct {
	mu    sync.Mutex
	msgs  []kafka.Message
	err   error
	stall bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	stall := w.stall
	w.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.msgs))
	for _, m := range w.msgs {
		out = append(out, string(m.Key))
	}
	return out
}

type fixture struct {
	svc      *CRMService
	writer   *fakeWriter
	pipeline *entity.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	w := &fakeWriter{}
	svc := NewCRMService(repository.NewMemoryRepository(), rdb, NewKafkaPublisher(w, 0))
	p, err := svc.EnsureDefaultPipeline(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)

	return &fixture{svc: svc, writer: w, pipeline: p}
}

func (f *fixture) stage(t *testing.T, name string) entity.Stage {
	t.Helper()
	for _, s := range f.pipeline.Stages {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no stage %q", name)
	return entity.Stage{}
}

func (f *fixture) deal(t *testing.T, owner auth.Principal) *entity.Deal {
	t.Helper()
	d, err := f.svc.CreateDeal(context.Background(), owner, entity.DealInput{
		Title:      "2019 Toyota RAV4",
		Amount:     decimal.RequireFromString("14250.50"),
		VehicleVIN: "2t3p1rfv8kw012345",
	}, "")
	require.NoError(t, err)
	return d
}

func TestEnsureDefaultPipeline_OnlyOnce(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.EnsureDefaultPipeline(context.Background())
	require.NoError(t, err)
	require.Nil(t, p)

	all, err := f.svc.ListPipelines(context.Background(), viewer)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsDefault)
}

func TestCreateDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.deal(t, seller)
	require.Equal(t, f.pipeline.ID, d.PipelineID)
	require.Equal(t, f.stage(t, "Lead").ID, d.StageID)
	require.Equal(t, "USD", d.Currency)
	require.Equal(t, "2T3P1RFV8KW012345", d.VehicleVIN)
	require.Equal(t, seller.UserID, d.OwnerID)
	require.Equal(t, int64(1), d.Version)
	require.False(t, d.Frozen())
	require.Equal(t, []string{"deal.created." + d.ID}, f.writer.keys())

	t.Run("viewer cannot create", func(t *testing.T) {
		_, err := f.svc.CreateDeal(ctx, viewer, entity.DealInput{Title: "x"}, "")
		require.ErrorIs(t, err, xerrors.ErrForbidden)
	})

	t.Run("sales cannot assign another owner", func(t *testing.T) {
		_, err := f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "x", OwnerID: other.UserID}, "")
		require.ErrorIs(t, err, xerrors.ErrForbidden)

		d, err := f.svc.CreateDeal(ctx, manager, entity.DealInput{Title: "x", OwnerID: other.UserID}, "")
		require.NoError(t, err)
		require.Equal(t, other.UserID, d.OwnerID)
	})

	t.Run("terminal stage rejected", func(t *testing.T) {
		_, err := f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "x", StageID: f.stage(t, "Won").ID}, "")
		require.ErrorIs(t, err, xerrors.ErrTerminalStage)
	})

	t.Run("foreign stage rejected", func(t *testing.T) {
		_, err := f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "x", StageID: "nope"}, "")
		require.ErrorIs(t, err, xerrors.ErrStageNotInPipeline)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.svc.CreateDeal(ctx, seller, entity.DealInput{}, "")
		require.ErrorIs(t, err, xerrors.ErrInvalidInput)

		_, err = f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "x", Amount: decimal.NewFromInt(-1)}, "")
		require.ErrorIs(t, err, xerrors.ErrInvalidInput)
	})
}

func TestCreateDeal_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := entity.DealInput{Title: "Idempotent"}

	_, err := f.svc.CreateDeal(ctx, seller, in, "req-1")
	require.NoError(t, err)

	_, err = f.svc.CreateDeal(ctx, seller, in, "req-1")
	require.ErrorIs(t, err, xerrors.ErrDuplicateRequest)

	// a failed create frees its key
	_, err = f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "x", PipelineID: "missing"}, "req-2")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
	_, err = f.svc.CreateDeal(ctx, seller, in, "req-2")
	require.NoError(t, err)

	deals, err := f.svc.ListDeals(ctx, viewer, entity.DealFilter{})
	require.NoError(t, err)
	require.Len(t, deals, 2)
}

func TestMoveDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, seller)

	moved, err := f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: f.stage(t, "Qualified").ID, Version: d.Version})
	require.NoError(t, err)
	require.Equal(t, f.stage(t, "Qualified").ID, moved.StageID)
	require.Equal(t, int64(2), moved.Version)

	// same stage is a no-op
	same, err := f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: moved.StageID})
	require.NoError(t, err)
	require.Equal(t, moved.Version, same.Version)

	_, err = f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: "elsewhere"})
	require.ErrorIs(t, err, xerrors.ErrStageNotInPipeline)

	_, err = f.svc.MoveDeal(ctx, other, d.ID, entity.MoveInput{StageID: f.stage(t, "Negotiation").ID})
	require.ErrorIs(t, err, xerrors.ErrForbidden)

	won, err := f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: f.stage(t, "Won").ID})
	require.NoError(t, err)
	require.Equal(t, entity.OutcomeWon, won.Outcome)
	require.True(t, won.IsFrozen)
	require.NotNil(t, won.ClosedAt)

	require.Equal(t, []string{
		"deal.created." + d.ID,
		"deal.moved." + d.ID,
		"deal.won." + d.ID,
	}, f.writer.keys())
}

func TestMoveDeal_IntoLostStageRecordsReason(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, seller)

	lost, err := f.svc.MoveDeal(context.Background(), seller, d.ID, entity.MoveInput{StageID: f.stage(t, "Lost").ID, Reason: " price "})
	require.NoError(t, err)
	require.Equal(t, entity.OutcomeLost, lost.Outcome)
	require.Equal(t, "price", lost.LostReason)
}

func TestFrozenDealRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, seller)

	won, err := f.svc.MarkWon(ctx, seller, d.ID, entity.CloseInput{})
	require.NoError(t, err)
	require.Equal(t, f.stage(t, "Won").ID, won.StageID)

	title := "changed"
	_, err = f.svc.UpdateDeal(ctx, seller, d.ID, entity.DealPatch{Title: &title})
	require.ErrorIs(t, err, xerrors.ErrDealFrozen)

	_, err = f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: f.stage(t, "Lead").ID})
	require.ErrorIs(t, err, xerrors.ErrDealFrozen)

	_, err = f.svc.MarkLost(ctx, seller, d.ID, entity.CloseInput{Reason: "late"})
	require.ErrorIs(t, err, xerrors.ErrDealFrozen)

	require.ErrorIs(t, f.svc.DeleteDeal(ctx, manager, d.ID), xerrors.ErrDealFrozen)

	stored, err := f.svc.GetDeal(ctx, viewer, d.ID)
	require.NoError(t, err)
	require.Equal(t, won.Version, stored.Version)
	require.Equal(t, "2019 Toyota RAV4", stored.Title)
}

func TestMarkLost_RequiresReason(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, seller)

	_, err := f.svc.MarkLost(context.Background(), seller, d.ID, entity.CloseInput{Reason: "  "})
	require.ErrorIs(t, err, xerrors.ErrLostReasonRequired)

	lost, err := f.svc.MarkLost(context.Background(), seller, d.ID, entity.CloseInput{Reason: "bought elsewhere"})
	require.NoError(t, err)
	require.Equal(t, f.stage(t, "Lost").ID, lost.StageID)
	require.Equal(t, "bought elsewhere", lost.LostReason)
}

func TestReopenDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, seller)

	_, err := f.svc.ReopenDeal(ctx, manager, d.ID, entity.ReopenInput{})
	require.ErrorIs(t, err, xerrors.ErrDealNotClosed)

	_, err = f.svc.MarkLost(ctx, seller, d.ID, entity.CloseInput{Reason: "no funds"})
	require.NoError(t, err)

	_, err = f.svc.ReopenDeal(ctx, seller, d.ID, entity.ReopenInput{})
	require.ErrorIs(t, err, xerrors.ErrForbidden)

	_, err = f.svc.ReopenDeal(ctx, manager, d.ID, entity.ReopenInput{StageID: f.stage(t, "Won").ID})
	require.ErrorIs(t, err, xerrors.ErrTerminalStage)

	open, err := f.svc.ReopenDeal(ctx, manager, d.ID, entity.ReopenInput{StageID: f.stage(t, "Negotiation").ID})
	require.NoError(t, err)
	require.False(t, open.Frozen())
	require.Nil(t, open.ClosedAt)
	require.Empty(t, open.LostReason)
	require.Equal(t, f.stage(t, "Negotiation").ID, open.StageID)

	_, err = f.svc.MoveDeal(ctx, seller, d.ID, entity.MoveInput{StageID: f.stage(t, "Quote sent").ID})
	require.NoError(t, err)
}

func TestUpdateDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, seller)

	amount := decimal.RequireFromString("15000.005")
	currency := "eur"
	updated, err := f.svc.UpdateDeal(ctx, seller, d.ID, entity.DealPatch{Version: 1, Amount: &amount, Currency: &currency})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("15000.01").Equal(updated.Amount))
	require.Equal(t, "EUR", updated.Currency)
	require.Equal(t, "2019 Toyota RAV4", updated.Title)

	_, err = f.svc.UpdateDeal(ctx, seller, d.ID, entity.DealPatch{Version: 1, Currency: &currency})
	require.ErrorIs(t, err, xerrors.ErrConcurrentModification)

	owner := other.UserID
	_, err = f.svc.UpdateDeal(ctx, seller, d.ID, entity.DealPatch{OwnerID: &owner})
	require.ErrorIs(t, err, xerrors.ErrForbidden)

	reassigned, err := f.svc.UpdateDeal(ctx, manager, d.ID, entity.DealPatch{OwnerID: &owner})
	require.NoError(t, err)
	require.Equal(t, other.UserID, reassigned.OwnerID)

	_, err = f.svc.UpdateDeal(ctx, seller, d.ID, entity.DealPatch{Currency: &currency})
	require.ErrorIs(t, err, xerrors.ErrForbidden)
}

func TestConcurrentMoves_OneWins(t *testing.T) {
	f := newFixture(t)
	d := f.deal(t, seller)
	targets := []string{f.stage(t, "Qualified").ID, f.stage(t, "Quote sent").ID, f.stage(t, "Negotiation").ID}

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, stage := range targets {
		wg.Add(1)
		go func(i int, stage string) {
			defer wg.Done()
			_, errs[i] = f.svc.MoveDeal(context.Background(), seller, d.ID, entity.MoveInput{StageID: stage, Version: d.Version})
		}(i, stage)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, xerrors.ErrConcurrentModification)
	}
	require.Equal(t, 1, succeeded)

	stored, err := f.svc.GetDeal(context.Background(), viewer, d.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
}

func TestDeleteDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, seller)

	require.ErrorIs(t, f.svc.DeleteDeal(ctx, seller, d.ID), xerrors.ErrForbidden)
	require.NoError(t, f.svc.DeleteDeal(ctx, manager, d.ID))

	_, err := f.svc.GetDeal(ctx, viewer, d.ID)
	require.ErrorIs(t, err, xerrors.ErrNotFound)
	require.Contains(t, f.writer.keys(), "deal.deleted."+d.ID)
}

func TestListDeals_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.deal(t, seller)
	f.deal(t, other)
	_, err := f.svc.MarkWon(ctx, seller, a.ID, entity.CloseInput{})
	require.NoError(t, err)

	won := entity.OutcomeWon
	open := entity.OutcomeOpen

	deals, err := f.svc.ListDeals(ctx, viewer, entity.DealFilter{Outcome: &won})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	require.Equal(t, a.ID, deals[0].ID)

	deals, err = f.svc.ListDeals(ctx, viewer, entity.DealFilter{Outcome: &open})
	require.NoError(t, err)
	require.Len(t, deals, 1)

	deals, err = f.svc.ListDeals(ctx, viewer, entity.DealFilter{OwnerID: other.UserID})
	require.NoError(t, err)
	require.Len(t, deals, 1)

	deals, err = f.svc.ListDeals(ctx, viewer, entity.DealFilter{Limit: 1, Offset: 5})
	require.NoError(t, err)
	require.Empty(t, deals)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("broker down")

	d := f.deal(t, seller)
	require.NotEmpty(t, d.ID)
	require.Empty(t, f.writer.keys())
}

func TestPublish_UnreachableBrokerIsBounded(t *testing.T) {
	w := &fakeWriter{stall: true}
	svc := NewCRMService(repository.NewMemoryRepository(), nil, NewKafkaPublisher(w, 20*time.Millisecond))
	_, err := svc.EnsureDefaultPipeline(context.Background())
	require.NoError(t, err)

	before := testutil.ToFloat64(eventPublishErrors)
	start := time.Now()
	d, err := svc.CreateDeal(context.Background(), seller, entity.DealInput{Title: "2019 Toyota RAV4"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(eventPublishErrors))
}

func TestKafkaPublisher_Timeout(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{stall: true}, 10*time.Millisecond)
	err := p.Publish(context.Background(), events.DealEvent{Type: events.DealCreated, DealID: "abc"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, DefaultPublishTimeout, NewKafkaPublisher(&fakeWriter{}, 0).timeout)
}

func TestPipelines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := entity.PipelineInput{
		Name: "Export",
		Stages: []entity.StageInput{
			{Name: "Booked", Order: 0},
			{Name: "Shipped", Order: 1},
			{Name: "Delivered", Order: 2, IsClosing: true, Probability: 100},
		},
	}

	_, err := f.svc.CreatePipeline(ctx, seller, in)
	require.ErrorIs(t, err, xerrors.ErrForbidden)

	p, err := f.svc.CreatePipeline(ctx, manager, in)
	require.NoError(t, err)
	require.False(t, p.IsDefault)
	require.Len(t, p.Stages, 3)

	bad := in
	bad.Stages = []entity.StageInput{{Name: "Done", Order: 0, IsClosing: true}}
	_, err = f.svc.CreatePipeline(ctx, manager, bad)
	require.ErrorIs(t, err, xerrors.ErrInvalidPipeline)

	d, err := f.svc.CreateDeal(ctx, seller, entity.DealInput{Title: "Export deal", PipelineID: p.ID}, "")
	require.NoError(t, err)
	require.Equal(t, p.Stages[0].ID, d.StageID)

	t.Run("removing an occupied stage", func(t *testing.T) {
		up := entity.PipelineInput{Name: "Export", Stages: []entity.StageInput{
			{ID: p.Stages[1].ID, Name: "Shipped", Order: 0},
			{ID: p.Stages[2].ID, Name: "Delivered", Order: 1, IsClosing: true},
		}}
		_, err := f.svc.UpdatePipeline(ctx, manager, p.ID, up)
		require.ErrorIs(t, err, xerrors.ErrPipelineInUse)
	})

	t.Run("renaming and adding stages", func(t *testing.T) {
		up := entity.PipelineInput{Name: "Export EU", Stages: []entity.StageInput{
			{ID: p.Stages[0].ID, Name: "Booked", Order: 0},
			{ID: p.Stages[1].ID, Name: "Shipped", Order: 1},
			{Name: "In customs", Order: 2},
			{ID: p.Stages[2].ID, Name: "Delivered", Order: 3, IsClosing: true},
		}}
		next, err := f.svc.UpdatePipeline(ctx, manager, p.ID, up)
		require.NoError(t, err)
		require.Equal(t, "Export EU", next.Name)
		require.Len(t, next.Stages, 4)
		require.Equal(t, "In customs", next.Stages[2].Name)
	})

	t.Run("unknown stage id", func(t *testing.T) {
		up := entity.PipelineInput{Name: "Export", Stages: []entity.StageInput{{ID: "foreign", Name: "X", Order: 0}}}
		_, err := f.svc.UpdatePipeline(ctx, manager, p.ID, up)
		require.ErrorIs(t, err, xerrors.ErrStageNotInPipeline)
	})

	require.ErrorIs(t, f.svc.DeletePipeline(ctx, manager, p.ID), xerrors.ErrPipelineInUse)
	require.NoError(t, f.svc.DeleteDeal(ctx, manager, d.ID))
	require.NoError(t, f.svc.DeletePipeline(ctx, manager, p.ID))
}

func TestKafkaPublisher_Key(t *testing.T) {
	w := &fakeWriter{}
	err := NewKafkaPublisher(w, 0).Publish(context.Background(), events.DealEvent{Type: events.DealLost, DealID: "abc"})
	require.NoError(t, err)
	require.Equal(t, []string{"deal.lost.abc"}, w.keys())

	typ, id, err := events.ParseKey(w.keys()[0])
	require.NoError(t, err)
	require.Equal(t, events.DealLost, typ)
	require.Equal(t, "abc", id)
}
