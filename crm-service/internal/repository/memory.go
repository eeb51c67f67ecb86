package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/samber/lo"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/internal/platform/xerrors"
)

// MemoryRepository keeps everything in process. It applies the same version
// check as the MySQL store under its mutex.
type MemoryRepository struct {
	mu        sync.RWMutex
	pipelines map[string]*entity.Pipeline
	deals     map[string]*entity.Deal
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pipelines: map[string]*entity.Pipeline{},
		deals:     map[string]*entity.Deal{},
	}
}

var _ Repository = (*MemoryRepository)(nil)

func clonePipeline(p *entity.Pipeline) *entity.Pipeline {
	c := *p
	c.Stages = slices.Clone(p.Stages)
	return &c
}

// checkStage reports whether stageID belongs to a stored pipeline. Callers
// hold r.mu.
func (r *MemoryRepository) checkStage(pipelineID, stageID string) error {
	p, ok := r.pipelines[pipelineID]
	if !ok {
		return fmt.Errorf("pipeline %s: %w", pipelineID, xerrors.ErrNotFound)
	}
	if _, ok := p.Stage(stageID); !ok {
		return fmt.Errorf("%w: stage %s", xerrors.ErrStageNotInPipeline, stageID)
	}
	return nil
}

// strandedDeals counts deals of p sitting in stages p does not have. Callers
// hold r.mu.
func (r *MemoryRepository) strandedDeals(p *entity.Pipeline) int {
	return lo.CountBy(lo.Values(r.deals), func(d *entity.Deal) bool {
		if d.PipelineID != p.ID {
			return false
		}
		_, ok := p.Stage(d.StageID)
		return !ok
	})
}

func (r *MemoryRepository) clearDefault(except string) {
	for id, p := range r.pipelines {
		if id != except {
			p.IsDefault = false
		}
	}
}

func (r *MemoryRepository) CreatePipeline(ctx context.Context, p *entity.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.ID]; ok {
		return fmt.Errorf("pipeline %s already exists: %w", p.ID, xerrors.ErrConcurrentModification)
	}
	if p.IsDefault {
		r.clearDefault(p.ID)
	}
	r.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (r *MemoryRepository) GetPipeline(ctx context.Context, id string) (*entity.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", id, xerrors.ErrNotFound)
	}
	return clonePipeline(p), nil
}

func (r *MemoryRepository) ListPipelines(ctx context.Context) ([]*entity.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.MapToSlice(r.pipelines, func(_ string, p *entity.Pipeline) *entity.Pipeline { return clonePipeline(p) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) UpdatePipeline(ctx context.Context, p *entity.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.ID]; !ok {
		return fmt.Errorf("pipeline %s: %w", p.ID, xerrors.ErrNotFound)
	}
	if n := r.strandedDeals(p); n > 0 {
		return fmt.Errorf("%w: %d deals sit in removed stages of pipeline %s", xerrors.ErrPipelineInUse, n, p.ID)
	}
	if p.IsDefault {
		r.clearDefault(p.ID)
	}
	r.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (r *MemoryRepository) DeletePipeline(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[id]; !ok {
		return fmt.Errorf("pipeline %s: %w", id, xerrors.ErrNotFound)
	}
	if n := r.strandedDeals(&entity.Pipeline{ID: id}); n > 0 {
		return fmt.Errorf("%w: %d deals reference pipeline %s", xerrors.ErrPipelineInUse, n, id)
	}
	delete(r.pipelines, id)
	return nil
}

func (r *MemoryRepository) CreateDeal(ctx context.Context, d *entity.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deals[d.ID]; ok {
		return fmt.Errorf("deal %s already exists: %w", d.ID, xerrors.ErrConcurrentModification)
	}
	if err := r.checkStage(d.PipelineID, d.StageID); err != nil {
		return err
	}
	r.deals[d.ID] = d.Clone()
	return nil
}

func (r *MemoryRepository) GetDeal(ctx context.Context, id string) (*entity.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", id, xerrors.ErrNotFound)
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) filtered(f entity.DealFilter) []*entity.Deal {
	out := lo.Filter(lo.Values(r.deals), func(d *entity.Deal, _ int) bool { return f.Matches(d) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) ListDeals(ctx context.Context, f entity.DealFilter) ([]*entity.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.filtered(f)
	if f.Offset > 0 {
		out = lo.Drop(out, f.Offset)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return lo.Map(out, func(d *entity.Deal, _ int) *entity.Deal { return d.Clone() }), nil
}

func (r *MemoryRepository) CountDeals(ctx context.Context, f entity.DealFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filtered(f)), nil
}

func (r *MemoryRepository) UpdateDeal(ctx context.Context, d *entity.Deal, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.deals[d.ID]
	if !ok {
		return fmt.Errorf("deal %s: %w", d.ID, xerrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("deal %s at version %d, expected %d: %w", d.ID, current.Version, expectedVersion, xerrors.ErrConcurrentModification)
	}
	if err := r.checkStage(d.PipelineID, d.StageID); err != nil {
		return err
	}
	d.Version = expectedVersion + 1
	r.deals[d.ID] = d.Clone()
	return nil
}

func (r *MemoryRepository) DeleteDeal(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deals[id]; !ok {
		return fmt.Errorf("deal %s: %w", id, xerrors.ErrNotFound)
	}
	delete(r.deals, id)
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }
