package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

const (
	defaultCurrency = "USD"
	defaultPageSize = 50
	maxPageSize     = 200
)

// CreateDeal creates a deal in the given or default pipeline. A non-empty
// idempotencyKey may be used once per 24h.
func (s *CRMService) CreateDeal(ctx context.Context, actor auth.Principal, in entity.DealInput, idempotencyKey string) (*entity.Deal, error) {
	if err := authorize(actor, auth.DealsCreate); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", xerrors.ErrInvalidInput)
	}

	owner := actor.UserID
	if in.OwnerID != 0 && in.OwnerID != actor.UserID {
		if !actor.Role.AtLeast(auth.RoleManager) {
			return nil, fmt.Errorf("%w: only managers assign deals to others", xerrors.ErrForbidden)
		}
		owner = in.OwnerID
	}

	fresh, err := s.claimIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, fmt.Errorf("%w: idempotency key %q", xerrors.ErrDuplicateRequest, idempotencyKey)
	}

	d, err := s.createDeal(ctx, actor, in, owner)
	if err != nil {
		s.releaseIdempotencyKey(ctx, idempotencyKey)
		return nil, err
	}
	s.publish(ctx, events.DealCreated, d, actor.UserID, "", "")
	return d, nil
}

func (s *CRMService) createDeal(ctx context.Context, actor auth.Principal, in entity.DealInput, owner int64) (*entity.Deal, error) {
	var pipeline *entity.Pipeline
	var err error
	if in.PipelineID != "" {
		pipeline, err = s.repo.GetPipeline(ctx, in.PipelineID)
	} else {
		pipeline, err = s.defaultPipeline(ctx)
	}
	if err != nil {
		return nil, err
	}

	var stage entity.Stage
	if in.StageID != "" {
		var ok bool
		if stage, ok = pipeline.Stage(in.StageID); !ok {
			return nil, fmt.Errorf("%w: stage %s, pipeline %s", xerrors.ErrStageNotInPipeline, in.StageID, pipeline.ID)
		}
		if stage.Terminal() {
			return nil, fmt.Errorf("%w: deals start in an open stage", xerrors.ErrTerminalStage)
		}
	} else {
		stage, _ = pipeline.FirstOpenStage()
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.now()
	d := &entity.Deal{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(in.Title),
		PipelineID:   pipeline.ID,
		StageID:      stage.ID,
		Amount:       in.Amount.Round(2),
		Currency:     currency,
		ContactName:  in.ContactName,
		ContactEmail: in.ContactEmail,
		VehicleVIN:   strings.ToUpper(in.VehicleVIN),
		OwnerID:      owner,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateDeal(ctx, d); err != nil {
		logger.Error().Err(err).Msg("Error creating deal")
		return nil, err
	}
	return d, nil
}

func (s *CRMService) GetDeal(ctx context.Context, actor auth.Principal, id string) (*entity.Deal, error) {
	if err := authorize(actor, auth.DealsRead); err != nil {
		return nil, err
	}
	return s.repo.GetDeal(ctx, id)
}

func (s *CRMService) ListDeals(ctx context.Context, actor auth.Principal, f entity.DealFilter) ([]*entity.Deal, error) {
	if err := authorize(actor, auth.DealsRead); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	deals, err := s.repo.ListDeals(ctx, f)
	if err != nil {
		return nil, err
	}
	if deals == nil {
		deals = []*entity.Deal{}
	}
	return deals, nil
}

// mutation changes d in place and names the event it produces. An empty
// event type means nothing changed.
type mutation func(d *entity.Deal, pipeline *entity.Pipeline) (events.DealEventType, string, error)

type mutateOpts struct {
	perm        auth.Permission
	version     int64
	allowFrozen bool
}

// mutate loads the deal, runs the permission, ownership, version and frozen
// guards, applies fn and stores the result with an optimistic update.
func (s *CRMService) mutate(ctx context.Context, actor auth.Principal, id string, opts mutateOpts, fn mutation) (*entity.Deal, error) {
	if err := authorize(actor, opts.perm); err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if opts.version != 0 && opts.version != d.Version {
		return nil, fmt.Errorf("deal %s at version %d, expected %d: %w", id, d.Version, opts.version, xerrors.ErrConcurrentModification)
	}
	if err := ownsOrManages(actor, d); err != nil {
		return nil, err
	}
	if d.Frozen() && !opts.allowFrozen {
		return nil, fmt.Errorf("deal %s is %s: %w", id, d.Outcome, xerrors.ErrDealFrozen)
	}

	pipeline, err := s.repo.GetPipeline(ctx, d.PipelineID)
	if err != nil {
		return nil, err
	}

	from, expected := d.StageID, d.Version
	typ, reason, err := fn(d, pipeline)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		return d, nil
	}

	d.UpdatedAt = s.now()
	if err := s.repo.UpdateDeal(ctx, d, expected); err != nil {
		logger.Error().Err(err).Str("deal", id).Str("type", string(typ)).Msg("Error updating deal")
		return nil, err
	}
	s.publish(ctx, typ, d, actor.UserID, from, reason)
	return d, nil
}

// UpdateDeal applies a partial update. Reassigning the owner needs a manager.
func (s *CRMService) UpdateDeal(ctx context.Context, actor auth.Principal, id string, patch entity.DealPatch) (*entity.Deal, error) {
	if err := validateInput(patch); err != nil {
		return nil, err
	}
	if patch.Amount != nil && patch.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", xerrors.ErrInvalidInput)
	}

	opts := mutateOpts{perm: auth.DealsUpdate, version: patch.Version}
	return s.mutate(ctx, actor, id, opts, func(d *entity.Deal, _ *entity.Pipeline) (events.DealEventType, string, error) {
		if patch.OwnerID != nil && *patch.OwnerID != d.OwnerID {
			if !actor.Role.AtLeast(auth.RoleManager) {
				return "", "", fmt.Errorf("%w: only managers reassign deals", xerrors.ErrForbidden)
			}
			d.OwnerID = *patch.OwnerID
		}
		if patch.Title != nil {
			d.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Amount != nil {
			d.Amount = patch.Amount.Round(2)
		}
		if patch.Currency != nil {
			d.Currency = strings.ToUpper(*patch.Currency)
		}
		if patch.ContactName != nil {
			d.ContactName = *patch.ContactName
		}
		if patch.ContactEmail != nil {
			d.ContactEmail = *patch.ContactEmail
		}
		if patch.VehicleVIN != nil {
			d.VehicleVIN = strings.ToUpper(*patch.VehicleVIN)
		}
		return events.DealUpdated, "", nil
	})
}

// MoveDeal moves an open deal to another stage of its pipeline. Entering a
// closing stage wins the deal, entering a lost stage loses it; both freeze.
func (s *CRMService) MoveDeal(ctx context.Context, actor auth.Principal, id string, in entity.MoveInput) (*entity.Deal, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	opts := mutateOpts{perm: auth.DealsMove, version: in.Version}
	return s.mutate(ctx, actor, id, opts, func(d *entity.Deal, pipeline *entity.Pipeline) (events.DealEventType, string, error) {
		stage, ok := pipeline.Stage(in.StageID)
		if !ok {
			return "", "", fmt.Errorf("%w: stage %s, pipeline %s", xerrors.ErrStageNotInPipeline, in.StageID, pipeline.ID)
		}
		if stage.ID == d.StageID {
			return "", "", nil
		}
		if stage.Terminal() {
			if err := authorize(actor, auth.DealsClose); err != nil {
				return "", "", err
			}
		}

		d.StageID = stage.ID
		switch {
		case stage.IsClosing:
			d.Close(entity.OutcomeWon, "", s.now())
			return events.DealWon, "", nil
		case stage.IsLost:
			reason := strings.TrimSpace(in.Reason)
			d.Close(entity.OutcomeLost, reason, s.now())
			return events.DealLost, reason, nil
		}
		return events.DealMoved, "", nil
	})
}

// MarkWon closes the deal as won, moving it to the first closing stage when
// the pipeline has one.
func (s *CRMService) MarkWon(ctx context.Context, actor auth.Principal, id string, in entity.CloseInput) (*entity.Deal, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	opts := mutateOpts{perm: auth.DealsClose, version: in.Version}
	return s.mutate(ctx, actor, id, opts, func(d *entity.Deal, pipeline *entity.Pipeline) (events.DealEventType, string, error) {
		if stage, ok := pipeline.FirstClosingStage(); ok {
			d.StageID = stage.ID
		}
		d.Close(entity.OutcomeWon, "", s.now())
		return events.DealWon, "", nil
	})
}

// MarkLost closes the deal as lost with a required reason, moving it to the
// first lost stage when the pipeline has one.
func (s *CRMService) MarkLost(ctx context.Context, actor auth.Principal, id string, in entity.CloseInput) (*entity.Deal, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, xerrors.ErrLostReasonRequired
	}

	opts := mutateOpts{perm: auth.DealsClose, version: in.Version}
	return s.mutate(ctx, actor, id, opts, func(d *entity.Deal, pipeline *entity.Pipeline) (events.DealEventType, string, error) {
		if stage, ok := pipeline.FirstLostStage(); ok {
			d.StageID = stage.ID
		}
		d.Close(entity.OutcomeLost, reason, s.now())
		return events.DealLost, reason, nil
	})
}

// ReopenDeal clears the outcome of a closed deal and puts it back into an
// open stage.
func (s *CRMService) ReopenDeal(ctx context.Context, actor auth.Principal, id string, in entity.ReopenInput) (*entity.Deal, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	opts := mutateOpts{perm: auth.DealsReopen, version: in.Version, allowFrozen: true}
	return s.mutate(ctx, actor, id, opts, func(d *entity.Deal, pipeline *entity.Pipeline) (events.DealEventType, string, error) {
		if !d.Frozen() {
			return "", "", fmt.Errorf("deal %s: %w", d.ID, xerrors.ErrDealNotClosed)
		}

		var stage entity.Stage
		if in.StageID == "" {
			stage, _ = pipeline.FirstOpenStage()
		} else {
			var ok bool
			if stage, ok = pipeline.Stage(in.StageID); !ok {
				return "", "", fmt.Errorf("%w: stage %s, pipeline %s", xerrors.ErrStageNotInPipeline, in.StageID, pipeline.ID)
			}
			if stage.Terminal() {
				return "", "", fmt.Errorf("%w: reopened deals go to an open stage", xerrors.ErrTerminalStage)
			}
		}

		d.Reopen()
		d.StageID = stage.ID
		return events.DealReopened, "", nil
	})
}

// DeleteDeal removes an open deal.
func (s *CRMService) DeleteDeal(ctx context.Context, actor auth.Principal, id string) error {
	if err := authorize(actor, auth.DealsDelete); err != nil {
		return err
	}
	d, err := s.repo.GetDeal(ctx, id)
	if err != nil {
		return err
	}
	if d.Frozen() {
		return fmt.Errorf("deal %s is %s: %w", id, d.Outcome, xerrors.ErrDealFrozen)
	}
	if err := s.repo.DeleteDeal(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.DealDeleted, d, actor.UserID, d.StageID, "")
	return nil
}
