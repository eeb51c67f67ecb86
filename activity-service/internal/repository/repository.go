package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"auction-logistics/activity-service/internal/entity"
	"auction-logistics/internal/events"
)

const duplicateEntry = 1062

// ActivityRepository stores deal activities in MySQL.
type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db}
}

// Insert stores a; it reports false when an activity with the same source
// already exists.
func (r *ActivityRepository) Insert(ctx context.Context, a *entity.Activity) (bool, error) {
	var payload any
	if len(a.Payload) > 0 {
		payload = []byte(a.Payload)
	}

	query := `INSERT INTO activities (id, deal_id, type, actor_id, from_stage_id, to_stage_id, reason, payload, occurred_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.DealID, string(a.Type), a.ActorID, a.FromStageID, a.ToStageID,
		a.Reason, payload, a.OccurredAt, a.Source)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByDeal returns the deal's activities, newest first.
func (r *ActivityRepository) ListByDeal(ctx context.Context, dealID string, limit int) ([]*entity.Activity, error) {
	query := `SELECT id, deal_id, type, actor_id, from_stage_id, to_stage_id, reason, payload, occurred_at
		FROM activities WHERE deal_id = ? ORDER BY occurred_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, dealID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*entity.Activity
	for rows.Next() {
		a := &entity.Activity{}
		var typ string
		var payload []byte
		if err := rows.Scan(&a.ID, &a.DealID, &typ, &a.ActorID, &a.FromStageID, &a.ToStageID, &a.Reason, &payload, &a.OccurredAt); err != nil {
			return nil, err
		}
		a.Type = events.DealEventType(typ)
		if len(payload) > 0 {
			a.Payload = payload
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (r *ActivityRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }
