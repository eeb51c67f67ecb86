package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

// EnsureDefaultPipeline seeds the default pipeline into an empty store.
func (s *CRMService) EnsureDefaultPipeline(ctx context.Context) (*entity.Pipeline, error) {
	pipelines, err := s.repo.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	if len(pipelines) > 0 {
		return nil, nil
	}

	p := entity.DefaultPipeline()
	s.assignIDs(&p)
	if err := s.repo.CreatePipeline(ctx, &p); err != nil {
		return nil, err
	}
	logger.Info().Str("pipeline", p.ID).Msg("seeded default pipeline")
	return &p, nil
}

func (s *CRMService) assignIDs(p *entity.Pipeline) {
	now := s.now()
	p.ID = uuid.NewString()
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range p.Stages {
		if p.Stages[i].ID == "" {
			p.Stages[i].ID = uuid.NewString()
		}
		p.Stages[i].PipelineID = p.ID
	}
}

func stageFromInput(in entity.StageInput) entity.Stage {
	return entity.Stage{
		ID:          in.ID,
		Name:        strings.TrimSpace(in.Name),
		Order:       in.Order,
		IsClosing:   in.IsClosing,
		IsLost:      in.IsLost,
		Probability: in.Probability,
	}
}

func (s *CRMService) CreatePipeline(ctx context.Context, actor auth.Principal, in entity.PipelineInput) (*entity.Pipeline, error) {
	if err := authorize(actor, auth.PipelinesWrite); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	p := entity.Pipeline{
		Name:      strings.TrimSpace(in.Name),
		IsDefault: in.IsDefault,
		Stages: lo.Map(in.Stages, func(si entity.StageInput, _ int) entity.Stage {
			st := stageFromInput(si)
			st.ID = ""
			return st
		}),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		p.IsDefault = true
	}

	s.assignIDs(&p)
	p.SortStages()
	if err := s.repo.CreatePipeline(ctx, &p); err != nil {
		logger.Error().Err(err).Msg("Error creating pipeline")
		return nil, err
	}
	return &p, nil
}

func (s *CRMService) GetPipeline(ctx context.Context, actor auth.Principal, id string) (*entity.Pipeline, error) {
	if err := authorize(actor, auth.PipelinesRead); err != nil {
		return nil, err
	}
	return s.repo.GetPipeline(ctx, id)
}

func (s *CRMService) ListPipelines(ctx context.Context, actor auth.Principal) ([]*entity.Pipeline, error) {
	if err := authorize(actor, auth.PipelinesRead); err != nil {
		return nil, err
	}
	pipelines, err := s.repo.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	if pipelines == nil {
		pipelines = []*entity.Pipeline{}
	}
	return pipelines, nil
}

// UpdatePipeline replaces name, default flag and stages. Stages keep their
// identity through their id; a stage that still holds deals cannot be
// removed.
func (s *CRMService) UpdatePipeline(ctx context.Context, actor auth.Principal, id string, in entity.PipelineInput) (*entity.Pipeline, error) {
	if err := authorize(actor, auth.PipelinesWrite); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	current, err := s.repo.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	next.Name = strings.TrimSpace(in.Name)
	next.IsDefault = in.IsDefault
	next.UpdatedAt = s.now()
	next.Stages = nil
	for _, si := range in.Stages {
		st := stageFromInput(si)
		if st.ID != "" {
			if _, ok := current.Stage(st.ID); !ok {
				return nil, fmt.Errorf("%w: stage %s", xerrors.ErrStageNotInPipeline, st.ID)
			}
		} else {
			st.ID = uuid.NewString()
		}
		st.PipelineID = id
		next.Stages = append(next.Stages, st)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.SortStages()

	// the store refuses to drop a stage that still holds deals
	if err := s.repo.UpdatePipeline(ctx, &next); err != nil {
		logger.Error().Err(err).Str("pipeline", id).Msg("Error updating pipeline")
		return nil, err
	}
	return &next, nil
}

func (s *CRMService) DeletePipeline(ctx context.Context, actor auth.Principal, id string) error {
	if err := authorize(actor, auth.PipelinesWrite); err != nil {
		return err
	}
	return s.repo.DeletePipeline(ctx, id)
}
