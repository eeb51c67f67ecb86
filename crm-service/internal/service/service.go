package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/crm-service/internal/repository"
	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/xerrors"
)

var logger = logging.Component("crm-service")

// Metrics
var (
	dealTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_deal_transitions_total",
			Help: "Total number of deal mutations by event type",
		},
		[]string{"type"},
	)

	eventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_deal_event_publish_errors_total",
			Help: "Total number of deal events that could not be published",
		},
	)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const idempotencyTTL = 24 * time.Hour

// CRMService implements pipelines and deals on top of a Repository. Every
// operation takes the calling principal and checks its permissions first.
type CRMService struct {
	repo      repository.Repository
	rdb       *redis.Client
	publisher EventPublisher
	now       func() time.Time
}

// NewCRMService creates a new instance of CRMService. rdb and publisher may
// be nil; idempotency keys and events are then skipped.
func NewCRMService(repo repository.Repository, rdb *redis.Client, publisher EventPublisher) *CRMService {
	return &CRMService{
		repo:      repo,
		rdb:       rdb,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func authorize(p auth.Principal, perm auth.Permission) error {
	if !p.Can(perm) {
		return fmt.Errorf("%w: role %q lacks %s", xerrors.ErrForbidden, p.Role, perm)
	}
	return nil
}

// ownsOrManages lets managers and admins touch any deal and everyone else
// only their own.
func ownsOrManages(p auth.Principal, d *entity.Deal) error {
	if p.Role.AtLeast(auth.RoleManager) || d.OwnerID == p.UserID {
		return nil
	}
	return fmt.Errorf("%w: deal %s belongs to another user", xerrors.ErrForbidden, d.ID)
}

func validateInput(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	return nil
}

// claimIdempotencyKey records key for 24h and reports whether it was new.
func (s *CRMService) claimIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if key == "" || s.rdb == nil {
		return true, nil
	}
	ok, err := s.rdb.SetNX(ctx, idempotencyKey(key), "exists", idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("could not check idempotency key: %w", err)
	}
	return ok, nil
}

func (s *CRMService) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("could not release idempotency key")
	}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

// publish sends a deal event. The mutation is already stored, so failures
// are logged and counted rather than returned.
func (s *CRMService) publish(ctx context.Context, typ events.DealEventType, d *entity.Deal, actor int64, from, reason string) {
	dealTransitions.WithLabelValues(string(typ)).Inc()
	if s.publisher == nil {
		return
	}

	snapshot, err := json.Marshal(d)
	if err != nil {
		logger.Error().Err(err).Str("deal", d.ID).Msg("could not encode deal snapshot")
		return
	}
	ev := events.DealEvent{
		Type:        typ,
		DealID:      d.ID,
		ActorID:     actor,
		FromStageID: from,
		ToStageID:   d.StageID,
		Reason:      reason,
		OccurredAt:  s.now(),
		Deal:        snapshot,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		eventPublishErrors.Inc()
		logger.Error().Err(err).Str("deal", d.ID).Str("type", string(typ)).Msg("could not publish deal event")
	}
}

// defaultPipeline returns the pipeline flagged default, else the oldest.
func (s *CRMService) defaultPipeline(ctx context.Context) (*entity.Pipeline, error) {
	pipelines, err := s.repo.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("no pipeline configured: %w", xerrors.ErrNotFound)
	}
	for _, p := range pipelines {
		if p.IsDefault {
			return p, nil
		}
	}
	return pipelines[0], nil
}
