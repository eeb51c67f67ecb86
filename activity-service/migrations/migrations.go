package migrations

import (
	"context"
	"database/sql"

	"auction-logistics/internal/platform/database"
)

const activities = `
	CREATE TABLE IF NOT EXISTS activities (
		id CHAR(36) PRIMARY KEY,
		deal_id CHAR(36) NOT NULL,
		type VARCHAR(16) NOT NULL,
		actor_id BIGINT NOT NULL,
		from_stage_id CHAR(36) NOT NULL DEFAULT '',
		to_stage_id CHAR(36) NOT NULL DEFAULT '',
		reason VARCHAR(500) NOT NULL DEFAULT '',
		payload JSON NULL,
		occurred_at DATETIME(3) NOT NULL,
		source VARCHAR(64) NOT NULL,
		UNIQUE KEY uq_activity_source (source),
		INDEX idx_activity_deal (deal_id, occurred_at)
	);
`

// AutoMigrate creates the activities table.
func AutoMigrate(ctx context.Context, db *sql.DB, retries int) error {
	return database.Migrate(ctx, db, retries, activities)
}
