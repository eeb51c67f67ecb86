package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"auction-logistics/activity-service/internal/entity"
	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/xerrors"
)

var logger = logging.Component("activity-service")

var recordedActivities = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activity_events_recorded_total",
		Help: "Total number of deal events stored as activities, by event type",
	},
	[]string{"type"},
)

const (
	timelineTTL     = 1 * time.Minute
	defaultTimeline = 100
	maxTimeline     = 500
)

// Store persists activities.
type Store interface {
	Insert(ctx context.Context, a *entity.Activity) (bool, error)
	ListByDeal(ctx context.Context, dealID string, limit int) ([]*entity.Activity, error)
}

// ActivityService records deal events and serves per-deal timelines. The
// newest page of each timeline is cached in redis.
type ActivityService struct {
	store Store
	rdb   *redis.Client
}

// NewActivityService creates a new instance of ActivityService. rdb may be nil.
func NewActivityService(store Store, rdb *redis.Client) *ActivityService {
	return &ActivityService{store: store, rdb: rdb}
}

func timelineKey(dealID string) string {
	return fmt.Sprintf("activity:deal:%s", dealID)
}

// Record stores ev as an activity. Redelivered events with a known source
// are ignored.
func (s *ActivityService) Record(ctx context.Context, ev events.DealEvent, source string) error {
	if !ev.Type.Valid() || ev.DealID == "" {
		return fmt.Errorf("%w: event %q for deal %q", xerrors.ErrInvalidInput, ev.Type, ev.DealID)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	a := &entity.Activity{
		ID:          uuid.NewString(),
		DealID:      ev.DealID,
		Type:        ev.Type,
		ActorID:     ev.ActorID,
		FromStageID: ev.FromStageID,
		ToStageID:   ev.ToStageID,
		Reason:      ev.Reason,
		Payload:     ev.Deal,
		OccurredAt:  occurred,
		Source:      source,
	}

	inserted, err := s.store.Insert(ctx, a)
	if err != nil {
		logger.Error().Err(err).Str("deal", ev.DealID).Msg("Error storing activity")
		return err
	}
	if !inserted {
		logger.Debug().Str("source", source).Msg("activity already recorded")
		return nil
	}
	recordedActivities.WithLabelValues(string(ev.Type)).Inc()

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, timelineKey(ev.DealID)).Err(); err != nil {
			logger.Error().Err(err).Str("deal", ev.DealID).Msg("Error invalidating timeline cache")
		}
	}
	return nil
}

// Timeline lists the deal's activities newest first.
func (s *ActivityService) Timeline(ctx context.Context, actor auth.Principal, dealID string, limit int) ([]*entity.Activity, error) {
	if !actor.Can(auth.ActivitiesRead) {
		return nil, fmt.Errorf("%w: role %q lacks %s", xerrors.ErrForbidden, actor.Role, auth.ActivitiesRead)
	}
	if limit <= 0 {
		limit = defaultTimeline
	}
	if limit > maxTimeline {
		limit = maxTimeline
	}

	// only the default page is cached
	cacheable := s.rdb != nil && limit == defaultTimeline
	if cacheable {
		if cached, ok := s.cachedTimeline(ctx, dealID); ok {
			return cached, nil
		}
	}

	activities, err := s.store.ListByDeal(ctx, dealID, limit)
	if err != nil {
		logger.Error().Err(err).Str("deal", dealID).Msg("Error listing activities")
		return nil, err
	}
	if activities == nil {
		activities = []*entity.Activity{}
	}

	if cacheable {
		if data, err := json.Marshal(activities); err == nil {
			if err := s.rdb.Set(ctx, timelineKey(dealID), data, timelineTTL).Err(); err != nil {
				logger.Error().Err(err).Str("deal", dealID).Msg("Error caching timeline")
			}
		}
	}
	return activities, nil
}

func (s *ActivityService) cachedTimeline(ctx context.Context, dealID string) ([]*entity.Activity, bool) {
	raw, err := s.rdb.Get(ctx, timelineKey(dealID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Error().Err(err).Str("deal", dealID).Msg("Error getting timeline from cache")
		}
		return nil, false
	}
	var activities []*entity.Activity
	if err := json.Unmarshal(raw, &activities); err != nil {
		logger.Warn().Err(err).Str("deal", dealID).Msg("dropping unreadable cached timeline")
		return nil, false
	}
	return activities, true
}
