package repository

import (
	"context"

	"auction-logistics/crm-service/internal/entity"
)

// Repository persists pipelines and deals. Missing records yield
// xerrors.ErrNotFound; UpdateDeal yields xerrors.ErrConcurrentModification
// when the stored version differs from expectedVersion.
type Repository interface {
	CreatePipeline(ctx context.Context, p *entity.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*entity.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*entity.Pipeline, error)
	UpdatePipeline(ctx context.Context, p *entity.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error

	CreateDeal(ctx context.Context, d *entity.Deal) error
	GetDeal(ctx context.Context, id string) (*entity.Deal, error)
	ListDeals(ctx context.Context, f entity.DealFilter) ([]*entity.Deal, error)
	CountDeals(ctx context.Context, f entity.DealFilter) (int, error)
	// UpdateDeal stores d and sets d.Version to the incremented version.
	UpdateDeal(ctx context.Context, d *entity.Deal, expectedVersion int64) error
	DeleteDeal(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}
